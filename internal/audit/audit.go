package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/veesix-networks/cmopt122/pkg/cache"
	"github.com/veesix-networks/cmopt122/pkg/component"
	"github.com/veesix-networks/cmopt122/pkg/events"
	"github.com/veesix-networks/cmopt122/pkg/logger"
)

const keyPrefix = "rewrite:"

func init() {
	component.Register(logger.Audit, New)
}

// Record is one rewrite kept for later inspection.
type Record struct {
	ID          string    `json:"id"`
	Time        time.Time `json:"time"`
	XID         uint32    `json:"xid"`
	MessageType string    `json:"message_type"`
	ClientMAC   string    `json:"client_mac"`
	YIAddr      string    `json:"yiaddr"`
	Previous    string    `json:"previous"`
	Server      string    `json:"server"`
}

type Component struct {
	*component.Base
	bus   events.Bus
	cache cache.Cache
	ttl   time.Duration
	sub   events.Subscription
}

func New(deps component.Dependencies) (component.Component, error) {
	if deps.Config == nil || !deps.Config.Audit.Enabled {
		return nil, nil
	}
	if deps.EventBus == nil || deps.Cache == nil {
		return nil, fmt.Errorf("audit needs an event bus and a cache")
	}

	return &Component{
		Base:  component.NewBase(logger.Audit),
		bus:   deps.EventBus,
		cache: deps.Cache,
		ttl:   deps.Config.Audit.TTL,
	}, nil
}

func (c *Component) Start(ctx context.Context) error {
	c.StartContext(ctx)
	c.sub = c.bus.Subscribe(events.TopicRewrite, c.handleRewrite)
	c.Logger.Info("Recording rewrites", "ttl", c.ttl)
	return nil
}

func (c *Component) Stop(ctx context.Context) error {
	if c.sub != nil {
		c.sub.Unsubscribe()
		c.sub = nil
	}
	c.StopContext()
	return nil
}

func (c *Component) handleRewrite(e events.Event) {
	ev, ok := e.Data.(events.RewriteEvent)
	if !ok {
		c.Logger.Warn("Unexpected rewrite event payload", "event_id", e.ID, "type", fmt.Sprintf("%T", e.Data))
		return
	}

	rec := Record{
		ID:          e.ID,
		Time:        e.Timestamp,
		XID:         ev.XID,
		MessageType: ev.MessageType,
		ClientMAC:   ev.ClientMAC,
		YIAddr:      ev.YIAddr,
		Previous:    ev.Previous,
		Server:      ev.Server,
	}

	if err := Store(c.Ctx, c.cache, rec, c.ttl); err != nil {
		c.Logger.Error("Failed to store rewrite record", "event_id", e.ID, "error", err)
		return
	}

	c.Logger.Info("Rewrote primary DHCP server",
		"xid", fmt.Sprintf("0x%08x", rec.XID),
		"type", rec.MessageType,
		"mac", rec.ClientMAC,
		"yiaddr", rec.YIAddr,
		"previous", rec.Previous,
		"server", rec.Server)
}

func Store(ctx context.Context, c cache.Cache, rec Record, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if err := c.Set(ctx, keyPrefix+rec.ID, data, ttl); err != nil {
		return fmt.Errorf("cache record: %w", err)
	}
	return nil
}

// List returns the stored records, newest first.
func List(ctx context.Context, c cache.Cache) ([]Record, error) {
	raw, err := c.GetAll(ctx, keyPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}

	records := make([]Record, 0, len(raw))
	for key, data := range raw {
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		if !records[i].Time.Equal(records[j].Time) {
			return records[i].Time.After(records[j].Time)
		}
		return records[i].ID < records[j].ID
	})

	return records, nil
}
