package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/florianl/go-nfqueue"
	"github.com/veesix-networks/cmopt122/pkg/component"
	"github.com/veesix-networks/cmopt122/pkg/config"
	"github.com/veesix-networks/cmopt122/pkg/events"
	"github.com/veesix-networks/cmopt122/pkg/logger"
	"github.com/veesix-networks/cmopt122/pkg/mangle"
	"github.com/veesix-networks/cmopt122/pkg/stats"
	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
	"golang.org/x/sys/unix"
	"inet.af/netaddr"
)

const (
	reasonFiltered  mangle.Reason = "interface_filtered"
	reasonNoPayload mangle.Reason = "no_payload"
)

type verdicter interface {
	SetVerdict(id uint32, verdict int) error
	SetVerdictModPacket(id uint32, verdict int, packet []byte) error
}

// Component reads IPv4 datagrams from a netfilter queue, runs them through the
// mangler and always hands them back with an accept verdict.
type Component struct {
	*component.Base
	cfg     config.Queue
	mangler *mangle.Mangler
	bus     events.Bus
	stats   *stats.Counters

	nf      *nfqueue.Nfqueue
	verdict verdicter
	filter  *InterfaceFilter
}

func New(deps component.Dependencies) (*Component, error) {
	if deps.Config == nil {
		return nil, errors.New("queue needs a configuration")
	}
	if deps.Mangler == nil {
		return nil, errors.New("queue needs a mangler")
	}

	st := deps.Stats
	if st == nil {
		st = stats.New()
	}

	return &Component{
		Base:    component.NewBase(logger.Queue),
		cfg:     deps.Config.Queue,
		mangler: deps.Mangler,
		bus:     deps.EventBus,
		stats:   st,
	}, nil
}

func (c *Component) Start(ctx context.Context) error {
	c.StartContext(ctx)

	nfCfg := nfqueue.Config{
		NfQueue:      c.cfg.Num,
		MaxPacketLen: c.cfg.MaxPacketLen,
		MaxQueueLen:  c.cfg.MaxQueueLen,
		AfFamily:     unix.AF_INET,
		Copymode:     nfqueue.NfQnlCopyPacket,
		WriteTimeout: c.cfg.WriteTimeout,
	}
	if c.cfg.IsFailOpen() {
		nfCfg.Flags = nfqueue.NfQaCfgFlagFailOpen
	}

	err := inNamespace(c.cfg.Namespace, func(lookup linkByName) error {
		filter, err := ResolveInterfaces(lookup, c.cfg.Interfaces)
		if err != nil {
			return err
		}
		c.filter = filter

		nf, err := nfqueue.Open(&nfCfg)
		if err != nil {
			return fmt.Errorf("open nfqueue %d: %w", c.cfg.Num, err)
		}
		c.nf = nf
		return nil
	})
	if err != nil {
		c.StopContext()
		return err
	}
	c.verdict = c.nf

	if err := c.nf.RegisterWithErrorFunc(c.Ctx, c.handle, c.handleError); err != nil {
		c.nf.Close()
		c.StopContext()
		return fmt.Errorf("register nfqueue %d: %w", c.cfg.Num, err)
	}

	c.Logger.Info("Listening on netfilter queue",
		"queue", c.cfg.Num,
		"namespace", c.cfg.Namespace,
		"interfaces", c.filter.Names(),
		"fail_open", c.cfg.IsFailOpen())

	return nil
}

func (c *Component) Stop(ctx context.Context) error {
	c.Logger.Info("Stopping netfilter queue", "queue", c.cfg.Num)

	c.StopContext()

	if c.nf != nil {
		if err := c.nf.Close(); err != nil {
			return fmt.Errorf("close nfqueue %d: %w", c.cfg.Num, err)
		}
		c.nf = nil
	}
	return nil
}

func (c *Component) handle(a nfqueue.Attribute) int {
	if a.PacketID == nil {
		return 0
	}
	id := *a.PacketID

	if a.Payload == nil {
		c.stats.Observe(mangle.Result{Verdict: mangle.VerdictAccept, Reason: reasonNoPayload})
		c.accept(id)
		return 0
	}

	if !c.filter.Allows(a.OutDev) {
		c.stats.Observe(mangle.Result{Verdict: mangle.VerdictAccept, Reason: reasonFiltered})
		c.accept(id)
		return 0
	}

	res := c.mangler.Process(newPacket(*a.Payload))
	c.stats.Observe(res)

	if res.Outcome != mangle.Mutated {
		c.accept(id)
		return 0
	}

	if err := c.verdict.SetVerdictModPacket(id, nfqueue.NfAccept, res.Datagram); err != nil {
		c.stats.QueueError()
		c.Logger.Warn("Failed to return rewritten datagram, accepting original", "id", id, "xid", res.XID, "error", err)
		c.accept(id)
		return 0
	}

	c.publish(res)
	return 0
}

func (c *Component) accept(id uint32) {
	if err := c.verdict.SetVerdict(id, nfqueue.NfAccept); err != nil {
		c.stats.QueueError()
		c.Logger.Debug("Failed to set verdict", "id", id, "error", err)
	}
}

// handleError keeps the receive loop alive on everything but a closed context.
func (c *Component) handleError(err error) int {
	if c.Ctx != nil && c.Ctx.Err() != nil {
		return 1
	}
	c.stats.QueueError()
	c.Logger.Warn("Netfilter queue receive error", "queue", c.cfg.Num, "error", err)
	return 0
}

func (c *Component) publish(res mangle.Result) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(events.TopicRewrite, events.Event{
		Source: logger.Queue,
		Data:   RewriteEvent(res),
	})
}

func RewriteEvent(res mangle.Result) events.RewriteEvent {
	return events.RewriteEvent{
		XID:         res.XID,
		MessageType: res.MessageType.String(),
		ClientMAC:   res.ClientMAC.String(),
		YIAddr:      netaddr.IPFrom4(res.YIAddr).String(),
		Previous:    netaddr.IPFrom4(res.Previous).String(),
		Server:      netaddr.IPFrom4(res.Server).String(),
	}
}

// inNamespace runs fn with the calling thread switched into the named network
// namespace, so sockets opened by fn stay bound to it. An empty name runs fn in
// the current namespace.
func inNamespace(name string, fn func(lookup linkByName) error) error {
	if name == "" {
		return fn(netlink.LinkByName)
	}

	runtime.LockOSThread()

	orig, err := netns.Get()
	if err != nil {
		runtime.UnlockOSThread()
		return fmt.Errorf("get current netns: %w", err)
	}
	defer orig.Close()

	target, err := netns.GetFromName(name)
	if err != nil {
		runtime.UnlockOSThread()
		return fmt.Errorf("get netns %q: %w", name, err)
	}
	defer target.Close()

	h, err := netlink.NewHandleAt(target)
	if err != nil {
		runtime.UnlockOSThread()
		return fmt.Errorf("create netlink handle for netns %q: %w", name, err)
	}
	defer h.Close()

	if err := netns.Set(target); err != nil {
		runtime.UnlockOSThread()
		return fmt.Errorf("enter netns %q: %w", name, err)
	}

	fnErr := fn(h.LinkByName)

	// A thread stuck in the wrong namespace must not go back to the pool.
	if err := netns.Set(orig); err != nil {
		return errors.Join(fnErr, fmt.Errorf("restore netns: %w", err))
	}
	runtime.UnlockOSThread()

	return fnErr
}
