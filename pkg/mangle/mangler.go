package mangle

import (
	"errors"
	"log/slog"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/veesix-networks/cmopt122/pkg/dhcp"
	"github.com/veesix-networks/cmopt122/pkg/ipv4"
	"github.com/veesix-networks/cmopt122/pkg/logger"
	"inet.af/netaddr"
)

type Verdict int

const (
	VerdictAccept Verdict = iota + 1
)

type Outcome uint8

const (
	PassThrough Outcome = iota
	Mutated
)

func (o Outcome) String() string {
	if o == Mutated {
		return "mutated"
	}
	return "pass_through"
}

var ErrNotWritable = errors.New("datagram could not be made writable")

// Datagram is one IPv4 datagram handed over by whatever intercepts traffic.
// MakeWritable returns a buffer that may be written in place. It may hand back
// different memory than Bytes, so nothing located before the call is valid
// after it.
type Datagram interface {
	Bytes() []byte
	MakeWritable() ([]byte, error)
}

type Result struct {
	Verdict Verdict
	Outcome Outcome
	Reason  Reason

	// Datagram is the rewritten buffer, set only when Outcome is Mutated.
	Datagram []byte

	XID         uint32
	MessageType dhcp.MessageType
	ClientMAC   net.HardwareAddr
	YIAddr      [4]byte
	Previous    [4]byte
	Server      [4]byte
}

type Options struct {
	Checksum ipv4.ChecksumMode
	Logger   *slog.Logger
}

// Mangler holds only configuration; Process can be called concurrently.
type Mangler struct {
	checksum ipv4.ChecksumMode
	logger   *slog.Logger
}

func New(opts Options) *Mangler {
	l := opts.Logger
	if l == nil {
		l = logger.Get(logger.Mangle)
	}

	checksum := opts.Checksum
	if checksum == "" {
		checksum = ipv4.ChecksumRecompute
	}

	return &Mangler{
		checksum: checksum,
		logger:   l,
	}
}

type headers struct {
	ip      layers.IPv4
	udp     layers.UDP
	hasUDP  bool
	payload []byte
}

func decodeHeaders(data []byte) (*headers, Reason) {
	h := &headers{}
	if err := h.ip.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return nil, ReasonMalformed
	}

	if h.ip.Protocol != layers.IPProtocolUDP {
		return h, ""
	}

	if h.ip.Flags&layers.IPv4MoreFragments != 0 || h.ip.FragOffset != 0 {
		return nil, ReasonFragment
	}

	if err := h.udp.DecodeFromBytes(h.ip.Payload, gopacket.NilDecodeFeedback); err != nil {
		return nil, ReasonMalformed
	}
	h.hasUDP = true
	h.payload = h.udp.Payload

	return h, ""
}

func (h *headers) classify() Decision {
	var udp *layers.UDP
	if h.hasUDP {
		udp = &h.udp
	}
	return Classify(&h.ip, udp, h.payload)
}

// Process runs one datagram through classification, option lookup and the
// primary server rewrite. The verdict is always accept; on any failure the
// datagram is left as it was.
func (m *Mangler) Process(d Datagram) Result {
	res := Result{Verdict: VerdictAccept, Outcome: PassThrough}

	h, reason := decodeHeaders(d.Bytes())
	if h == nil {
		res.Reason = reason
		return res
	}

	dec := h.classify()
	res.Reason = dec.Reason
	if !dec.Inspect {
		return res
	}

	msg := dec.Message
	res.XID = msg.XID()
	res.MessageType = msg.MessageType()
	res.ClientMAC = append(net.HardwareAddr(nil), msg.CHAddr()...)
	res.YIAddr = msg.YIAddr()

	log := m.logger.With("xid", res.XID, "yiaddr", netaddr.IPFrom4(res.YIAddr).String(), "mac", res.ClientMAC.String(),
		"reply", msg.IsReply(), "cookie", msg.HasMagicCookie())

	opt, ok := dhcp.FindOption(msg, dhcp.OptionCableLabsClientConfig)
	if !ok {
		res.Reason = ReasonNoOption
		log.Debug("Watched reply without option 122")
		return res
	}

	if !hasPrimaryServer(opt) {
		res.Reason = ReasonShapeMismatch
		if addr, ok := primaryServer(opt); ok {
			log.Debug("Option 122 primary server is not the leading sub-option",
				"len", opt.Len(), "primary_server", netaddr.IPFrom4(addr).String())
		} else {
			log.Debug("Option 122 has no primary server sub-option", "len", opt.Len())
		}
		return res
	}

	buf, err := d.MakeWritable()
	if err != nil {
		res.Reason = ReasonNotWritable
		log.Debug("Datagram not writable", "error", err)
		return res
	}

	// Everything located so far referred to the old buffer.
	h, _ = decodeHeaders(buf)
	if h == nil {
		res.Reason = ReasonStale
		return res
	}

	dec = h.classify()
	if !dec.Inspect {
		res.Reason = ReasonStale
		return res
	}

	opt, ok = dhcp.FindOption(dec.Message, dhcp.OptionCableLabsClientConfig)
	if !ok || !hasPrimaryServer(opt) {
		res.Reason = ReasonStale
		log.Debug("Option 122 vanished after making datagram writable")
		return res
	}

	previous, _ := primaryServer(opt)
	if err := RewritePrimaryServer(opt, dec.Message.YIAddr()); err != nil {
		res.Reason = ReasonStale
		return res
	}

	if err := ipv4.ApplyChecksum(buf, m.checksum); err != nil {
		log.Warn("Failed to update UDP checksum", "mode", m.checksum, "error", err)
	}

	res.Outcome = Mutated
	res.Reason = ReasonRewritten
	res.Datagram = buf
	res.Previous = previous
	res.Server = dec.Class.Server

	log.Debug("Rewrote primary DHCP server",
		"previous", netaddr.IPFrom4(previous).String(),
		"server", dec.Class.ServerIP().String(),
		"space", opt.Space.String())

	return res
}

// Buffer is a Datagram over a caller-owned slice. MakeWritable hands back a
// copy, so the caller's slice is only changed if it copies the result back.
// A buffer shorter than its IPv4 total length is never writable.
type Buffer struct {
	data []byte
}

func NewBuffer(data []byte) *Buffer {
	return &Buffer{data: data}
}

func (b *Buffer) Bytes() []byte {
	return b.data
}

func (b *Buffer) MakeWritable() ([]byte, error) {
	if ipv4.Truncated(b.data) {
		return nil, ErrNotWritable
	}
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out, nil
}
