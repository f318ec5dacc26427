package replay

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/veesix-networks/cmopt122/pkg/logger"
	"github.com/veesix-networks/cmopt122/pkg/mangle"
	"inet.af/netaddr"
)

const reasonNoIPv4 mangle.Reason = "no_ipv4"

type Options struct {
	Mangler *mangle.Mangler
	// Verbose receives a decoded summary of every rewritten reply.
	Verbose io.Writer
	Logger  *slog.Logger
}

type Summary struct {
	Packets   int
	Rewritten int
	Reasons   map[mangle.Reason]int
}

func (s Summary) SortedReasons() []mangle.Reason {
	out := make([]mangle.Reason, 0, len(s.Reasons))
	for r := range s.Reasons {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Replayer feeds every frame of a capture through a mangler and writes the
// capture back out, rewritten frames included.
type Replayer struct {
	mangler *mangle.Mangler
	verbose io.Writer
	logger  *slog.Logger
}

func New(opts Options) *Replayer {
	m := opts.Mangler
	if m == nil {
		m = mangle.New(mangle.Options{})
	}
	l := opts.Logger
	if l == nil {
		l = logger.Get(logger.Replay)
	}
	return &Replayer{mangler: m, verbose: opts.Verbose, logger: l}
}

func (r *Replayer) Run(in io.Reader, out io.Writer) (Summary, error) {
	sum := Summary{Reasons: make(map[mangle.Reason]int)}

	reader, err := pcapgo.NewReader(in)
	if err != nil {
		return sum, fmt.Errorf("read pcap header: %w", err)
	}

	linkType := reader.LinkType()
	writer := pcapgo.NewWriter(out)
	if err := writer.WriteFileHeader(reader.Snaplen(), linkType); err != nil {
		return sum, fmt.Errorf("write pcap header: %w", err)
	}

	r.logger.Debug("Replaying capture", "link_type", linkType.String(), "snaplen", reader.Snaplen())

	for {
		data, ci, err := reader.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return sum, fmt.Errorf("read packet %d: %w", sum.Packets+1, err)
		}
		sum.Packets++

		frame, res := r.processFrame(linkType, data)
		sum.Reasons[res.Reason]++
		if res.Outcome == mangle.Mutated {
			sum.Rewritten++
			r.describe(sum.Packets, res)
		}

		if err := writer.WritePacket(ci, frame); err != nil {
			return sum, fmt.Errorf("write packet %d: %w", sum.Packets, err)
		}
	}

	return sum, nil
}

func (r *Replayer) processFrame(linkType layers.LinkType, data []byte) ([]byte, mangle.Result) {
	offset, ok := ipv4Offset(linkType, data)
	if !ok {
		return data, mangle.Result{Verdict: mangle.VerdictAccept, Reason: reasonNoIPv4}
	}

	datagram := data[offset:]
	if len(datagram) >= 4 {
		if total := int(binary.BigEndian.Uint16(datagram[2:4])); total >= 20 && total < len(datagram) {
			datagram = datagram[:total]
		}
	}

	res := r.mangler.Process(mangle.NewBuffer(datagram))
	if res.Outcome != mangle.Mutated {
		return data, res
	}

	frame := make([]byte, len(data))
	copy(frame, data)
	copy(frame[offset:], res.Datagram)
	return frame, res
}

// ipv4Offset finds where the IPv4 header starts inside a captured frame.
func ipv4Offset(linkType layers.LinkType, data []byte) (int, bool) {
	pkt := gopacket.NewPacket(data, linkType, gopacket.DecodeOptions{Lazy: true, NoCopy: true})

	offset := 0
	for _, l := range pkt.Layers() {
		if l.LayerType() == layers.LayerTypeIPv4 {
			return offset, true
		}
		offset += len(l.LayerContents())
	}
	return 0, false
}

func (r *Replayer) describe(n int, res mangle.Result) {
	r.logger.Debug("Rewrote frame", "packet", n, "xid", res.XID, "server", netaddr.IPFrom4(res.Server).String())

	if r.verbose == nil {
		return
	}

	pkt := gopacket.NewPacket(res.Datagram, layers.LayerTypeIPv4, gopacket.DecodeOptions{NoCopy: true})
	udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
	if !ok {
		return
	}

	msg, err := dhcpv4.FromBytes(udp.Payload)
	if err != nil {
		fmt.Fprintf(r.verbose, "packet %d: rewritten, dhcp decode failed: %v\n", n, err)
		return
	}
	fmt.Fprintf(r.verbose, "packet %d: rewritten\n%s\n", n, msg.Summary())
}
