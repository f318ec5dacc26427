package mangle

import (
	"bytes"
	"encoding/binary"
	"errors"
	"log/slog"
	"net"
	"strings"
	"testing"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/veesix-networks/cmopt122/pkg/dhcp"
	"github.com/veesix-networks/cmopt122/pkg/ipv4"
)

var (
	testServerIP = net.ParseIP("10.0.0.1")
	testMAC      = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
)

func offerPayload(t *testing.T, yiaddr string, opt122 []byte) []byte {
	t.Helper()

	offer, err := dhcpv4.New(
		dhcpv4.WithMessageType(dhcpv4.MessageTypeOffer),
		dhcpv4.WithYourIP(net.ParseIP(yiaddr)),
		dhcpv4.WithServerIP(testServerIP),
		dhcpv4.WithHwAddr(testMAC),
		dhcpv4.WithTransactionID(dhcpv4.TransactionID{0xDE, 0xAD, 0xBE, 0xEF}),
		dhcpv4.WithOption(dhcpv4.OptServerIdentifier(testServerIP)),
	)
	if err != nil {
		t.Fatalf("build offer: %v", err)
	}
	offer.OpCode = dhcpv4.OpcodeBootReply

	if opt122 != nil {
		offer.UpdateOption(dhcpv4.OptGeneric(dhcpv4.GenericOptionCode(dhcp.OptionCableLabsClientConfig), opt122))
	}

	return offer.ToBytes()
}

func offerDatagram(t *testing.T, yiaddr string, opt122 []byte) []byte {
	t.Helper()
	return ipv4.BuildUDPPacket(testServerIP, net.IPv4bcast, 67, 68, offerPayload(t, yiaddr, opt122))
}

// primaryServerOption is option 122 carrying sub-option 1 (primary server)
// followed by sub-option 3 (provisioning server FQDN-ish filler).
var primaryServerOption = []byte{
	1, 4, 172, 16, 0, 10, // sub-option 1, the cmts address to replace
	3, 3, 'p', 'r', 'v', // sub-option 3
}

type failingDatagram struct {
	data []byte
}

func (f *failingDatagram) Bytes() []byte                 { return f.data }
func (f *failingDatagram) MakeWritable() ([]byte, error) { return nil, ErrNotWritable }

// relocatingDatagram hands out a writable copy produced by mutate, standing in
// for a queue whose writable buffer no longer matches what was inspected.
type relocatingDatagram struct {
	data   []byte
	mutate func([]byte)
}

func (r *relocatingDatagram) Bytes() []byte { return r.data }
func (r *relocatingDatagram) MakeWritable() ([]byte, error) {
	out := append([]byte(nil), r.data...)
	r.mutate(out)
	return out, nil
}

func process(t *testing.T, d Datagram) Result {
	t.Helper()
	res := New(Options{}).Process(d)
	if res.Verdict != VerdictAccept {
		t.Fatalf("verdict = %v, want accept", res.Verdict)
	}
	return res
}

func locate122(t *testing.T, datagram []byte) dhcp.OptionView {
	t.Helper()
	msg, err := dhcp.NewMessage(datagram[ipv4.HeaderMinLen+ipv4.UDPHeaderLen:])
	if err != nil {
		t.Fatalf("message: %v", err)
	}
	opt, ok := dhcp.FindOption(msg, dhcp.OptionCableLabsClientConfig)
	if !ok {
		t.Fatal("option 122 missing")
	}
	return opt
}

func TestProcess_Rewrites212(t *testing.T) {
	in := offerDatagram(t, "10.212.5.200", primaryServerOption)
	orig := append([]byte(nil), in...)

	res := process(t, NewBuffer(in))

	if res.Outcome != Mutated || res.Reason != ReasonRewritten {
		t.Fatalf("outcome = %v/%s, want mutated/rewritten", res.Outcome, res.Reason)
	}
	if !bytes.Equal(in, orig) {
		t.Error("input buffer changed; only the writable copy may be written")
	}

	opt := locate122(t, res.Datagram)
	want := []byte{1, 4, 10, 212, 0, 1, 3, 3, 'p', 'r', 'v'}
	if !bytes.Equal(opt.Value(), want) {
		t.Errorf("option 122 = %v, want %v", opt.Value(), want)
	}
	if res.Previous != [4]byte{172, 16, 0, 10} {
		t.Errorf("previous = %v", res.Previous)
	}
	if res.Server != [4]byte{10, 212, 0, 1} {
		t.Errorf("server = %v", res.Server)
	}
	if res.XID != 0xDEADBEEF {
		t.Errorf("xid = %x", res.XID)
	}
	if res.MessageType != dhcp.DHCPOffer {
		t.Errorf("message type = %v", res.MessageType)
	}
	if !bytes.Equal(res.ClientMAC, testMAC) {
		t.Errorf("mac = %v", res.ClientMAC)
	}
}

func TestProcess_Rewrites213(t *testing.T) {
	tests := []struct {
		yiaddr string
		server []byte
	}{
		{"10.213.5.200", []byte{10, 213, 0, 1}},
		{"10.213.200.5", []byte{10, 213, 192, 1}},
		{"10.213.100.5", []byte{10, 213, 64, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.yiaddr, func(t *testing.T) {
			res := process(t, NewBuffer(offerDatagram(t, tt.yiaddr, primaryServerOption)))
			if res.Outcome != Mutated {
				t.Fatalf("outcome = %v (%s)", res.Outcome, res.Reason)
			}
			if got := locate122(t, res.Datagram).Value()[2:6]; !bytes.Equal(got, tt.server) {
				t.Errorf("server = %v, want %v", got, tt.server)
			}
		})
	}
}

// Only the four address bytes and the UDP checksum may differ after a rewrite;
// every option length byte keeps its value.
func TestProcess_OnlyAddressBytesChange(t *testing.T) {
	in := offerDatagram(t, "10.213.130.7", primaryServerOption)
	res := process(t, NewBuffer(in))
	if res.Outcome != Mutated {
		t.Fatalf("outcome = %v (%s)", res.Outcome, res.Reason)
	}

	dhcpOff := ipv4.HeaderMinLen + ipv4.UDPHeaderLen
	valueOff := dhcpOff + locate122(t, res.Datagram).Offset + 2
	checksumOff := ipv4.HeaderMinLen + 6

	if len(res.Datagram) != len(in) {
		t.Fatalf("length changed: %d -> %d", len(in), len(res.Datagram))
	}
	for i := range in {
		if in[i] == res.Datagram[i] {
			continue
		}
		inAddr := i >= valueOff+2 && i < valueOff+6
		inChecksum := i == checksumOff || i == checksumOff+1
		if !inAddr && !inChecksum {
			t.Errorf("byte %d changed: %#x -> %#x", i, in[i], res.Datagram[i])
		}
	}

	if got := locate122(t, res.Datagram).Len(); got != byte(len(primaryServerOption)) {
		t.Errorf("option 122 length = %d, want %d", got, len(primaryServerOption))
	}
}

func TestProcess_ChecksumRecomputed(t *testing.T) {
	res := process(t, NewBuffer(offerDatagram(t, "10.212.1.1", primaryServerOption)))
	if res.Outcome != Mutated {
		t.Fatalf("outcome = %v (%s)", res.Outcome, res.Reason)
	}
	ok, err := ipv4.VerifyUDPChecksum(res.Datagram)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Error("udp checksum invalid after rewrite")
	}
}

func TestProcess_ChecksumZeroMode(t *testing.T) {
	m := New(Options{Checksum: ipv4.ChecksumZero})
	res := m.Process(NewBuffer(offerDatagram(t, "10.212.1.1", primaryServerOption)))
	if res.Outcome != Mutated {
		t.Fatalf("outcome = %v (%s)", res.Outcome, res.Reason)
	}
	if got := binary.BigEndian.Uint16(res.Datagram[ipv4.HeaderMinLen+6:]); got != 0 {
		t.Errorf("checksum = %#x, want 0", got)
	}
}

func TestProcess_UnwatchedUnchanged(t *testing.T) {
	in := offerDatagram(t, "192.168.1.1", primaryServerOption)
	orig := append([]byte(nil), in...)

	res := process(t, NewBuffer(in))
	if res.Outcome != PassThrough || res.Reason != ReasonUnwatched {
		t.Errorf("outcome = %v/%s, want pass_through/unwatched", res.Outcome, res.Reason)
	}
	if res.Datagram != nil {
		t.Error("pass through must not return a buffer")
	}
	if !bytes.Equal(in, orig) {
		t.Error("buffer changed")
	}
}

func TestProcess_NoOption122(t *testing.T) {
	res := process(t, NewBuffer(offerDatagram(t, "10.212.5.200", nil)))
	if res.Outcome != PassThrough || res.Reason != ReasonNoOption {
		t.Errorf("outcome = %v/%s", res.Outcome, res.Reason)
	}
}

func TestProcess_ShapeMismatch(t *testing.T) {
	in := offerDatagram(t, "10.212.5.200", []byte{1, 3, 10, 212, 0})
	orig := append([]byte(nil), in...)

	res := process(t, NewBuffer(in))
	if res.Outcome != PassThrough || res.Reason != ReasonShapeMismatch {
		t.Errorf("outcome = %v/%s", res.Outcome, res.Reason)
	}
	if !bytes.Equal(in, orig) {
		t.Error("buffer changed")
	}
}

func TestProcess_SubOptionNotFirst(t *testing.T) {
	res := process(t, NewBuffer(offerDatagram(t, "10.212.5.200", []byte{3, 2, 'a', 'b', 1, 4, 1, 2, 3, 4})))
	if res.Reason != ReasonShapeMismatch {
		t.Errorf("reason = %s, want shape mismatch", res.Reason)
	}
}

func TestProcess_NotWritable(t *testing.T) {
	in := offerDatagram(t, "10.212.5.200", primaryServerOption)
	orig := append([]byte(nil), in...)

	res := process(t, &failingDatagram{data: in})
	if res.Outcome != PassThrough || res.Reason != ReasonNotWritable {
		t.Errorf("outcome = %v/%s", res.Outcome, res.Reason)
	}
	if !bytes.Equal(in, orig) {
		t.Error("buffer changed")
	}
}

func TestProcess_RevalidatesAfterMakeWritable(t *testing.T) {
	in := offerDatagram(t, "10.212.5.200", primaryServerOption)
	opt := locate122(t, in)
	lenOff := ipv4.HeaderMinLen + ipv4.UDPHeaderLen + opt.Offset + 1

	d := &relocatingDatagram{
		data: in,
		mutate: func(b []byte) {
			// sub-option 1 now declares length 3
			b[lenOff+2] = 3
		},
	}

	res := process(t, d)
	if res.Outcome != PassThrough || res.Reason != ReasonStale {
		t.Errorf("outcome = %v/%s, want pass_through/revalidate_failed", res.Outcome, res.Reason)
	}
}

func TestProcess_RewritesInFileOverload(t *testing.T) {
	payload := make([]byte, 320)
	payload[0] = dhcp.OpReply
	copy(payload[16:20], []byte{10, 213, 70, 9})
	binary.BigEndian.PutUint32(payload[236:240], dhcp.MagicCookie)
	copy(payload[240:], []byte{52, 1, dhcp.OverloadFile, 53, 1, 5, 255})
	copy(payload[108:], []byte{122, 6, 1, 4, 9, 9, 9, 9, 255})

	datagram := ipv4.BuildUDPPacket(testServerIP, net.IPv4bcast, 67, 68, payload)
	res := process(t, NewBuffer(datagram))
	if res.Outcome != Mutated {
		t.Fatalf("outcome = %v (%s)", res.Outcome, res.Reason)
	}

	got := res.Datagram[ipv4.HeaderMinLen+ipv4.UDPHeaderLen+108 : ipv4.HeaderMinLen+ipv4.UDPHeaderLen+116]
	want := []byte{122, 6, 1, 4, 10, 213, 64, 1}
	if !bytes.Equal(got, want) {
		t.Errorf("file field = %v, want %v", got, want)
	}
}

func TestProcess_ShortPayload(t *testing.T) {
	payload := make([]byte, 250)
	copy(payload[16:20], []byte{10, 212, 0, 9})
	res := process(t, NewBuffer(ipv4.BuildUDPPacket(testServerIP, net.IPv4bcast, 67, 68, payload)))
	if res.Reason != ReasonShortPayload {
		t.Errorf("reason = %s", res.Reason)
	}
}

func TestProcess_WrongPort(t *testing.T) {
	payload := offerPayload(t, "10.212.5.200", primaryServerOption)
	res := process(t, NewBuffer(ipv4.BuildUDPPacket(testServerIP, net.IPv4bcast, 68, 67, payload)))
	if res.Reason != ReasonNotBootps {
		t.Errorf("reason = %s", res.Reason)
	}
}

func TestProcess_Fragment(t *testing.T) {
	in := offerDatagram(t, "10.212.5.200", primaryServerOption)
	in[6] |= 0x20 // more fragments
	res := process(t, NewBuffer(in))
	if res.Reason != ReasonFragment {
		t.Errorf("reason = %s", res.Reason)
	}
}

func TestProcess_Garbage(t *testing.T) {
	for _, in := range [][]byte{nil, {0x45}, make([]byte, 19), bytes.Repeat([]byte{0xFF}, 400)} {
		res := process(t, NewBuffer(in))
		if res.Outcome != PassThrough {
			t.Errorf("len %d: outcome = %v", len(in), res.Outcome)
		}
	}
}

func TestRewritePrimaryServer_NotApplicable(t *testing.T) {
	payload := offerPayload(t, "10.212.5.200", []byte{1, 3, 10, 212, 0})
	msg, err := dhcp.NewMessage(payload)
	if err != nil {
		t.Fatal(err)
	}
	opt, ok := dhcp.FindOption(msg, dhcp.OptionCableLabsClientConfig)
	if !ok {
		t.Fatal("option 122 missing")
	}
	before := append([]byte(nil), payload...)

	if err := RewritePrimaryServer(opt, msg.YIAddr()); !errors.Is(err, ErrNotApplicable) {
		t.Errorf("err = %v, want ErrNotApplicable", err)
	}
	if !bytes.Equal(payload, before) {
		t.Error("payload changed")
	}
}

func TestRewritePrimaryServer_UnwatchedAddress(t *testing.T) {
	payload := offerPayload(t, "192.168.1.1", primaryServerOption)
	msg, _ := dhcp.NewMessage(payload)
	opt, ok := dhcp.FindOption(msg, dhcp.OptionCableLabsClientConfig)
	if !ok {
		t.Fatal("option 122 missing")
	}
	if err := RewritePrimaryServer(opt, msg.YIAddr()); !errors.Is(err, ErrNotApplicable) {
		t.Errorf("err = %v, want ErrNotApplicable", err)
	}
}

func TestRewritePrimaryServer_WrongOption(t *testing.T) {
	payload := offerPayload(t, "10.212.5.200", nil)
	msg, _ := dhcp.NewMessage(payload)
	opt, ok := dhcp.FindOption(msg, dhcp.OptionMessageType)
	if !ok {
		t.Fatal("option 53 missing")
	}
	if err := RewritePrimaryServer(opt, msg.YIAddr()); !errors.Is(err, ErrNotApplicable) {
		t.Errorf("err = %v, want ErrNotApplicable", err)
	}
}

func TestBuffer_MakeWritableEmpty(t *testing.T) {
	if _, err := NewBuffer(nil).MakeWritable(); !errors.Is(err, ErrNotWritable) {
		t.Errorf("err = %v", err)
	}
}

func TestBuffer_MakeWritableTruncated(t *testing.T) {
	in := offerDatagram(t, "10.212.5.200", primaryServerOption)

	if _, err := NewBuffer(in[:len(in)-16]).MakeWritable(); !errors.Is(err, ErrNotWritable) {
		t.Errorf("err = %v, want ErrNotWritable", err)
	}
	if _, err := NewBuffer(in).MakeWritable(); err != nil {
		t.Errorf("complete datagram: %v", err)
	}
}

func TestProcess_TruncatedCaptureUnchanged(t *testing.T) {
	in := offerDatagram(t, "10.212.5.200", primaryServerOption)
	short := append([]byte(nil), in[:len(in)-16]...)
	orig := append([]byte(nil), short...)

	res := process(t, NewBuffer(short))
	if res.Outcome != PassThrough {
		t.Errorf("outcome = %v, want pass through", res.Outcome)
	}
	if res.Datagram != nil {
		t.Error("truncated datagram produced a rewrite")
	}
	if !bytes.Equal(short, orig) {
		t.Error("buffer changed")
	}
}

func debugMangler(buf *bytes.Buffer) *Mangler {
	return New(Options{Logger: slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))})
}

func TestProcess_DebugDiagnostics(t *testing.T) {
	var buf bytes.Buffer
	res := debugMangler(&buf).Process(NewBuffer(offerDatagram(t, "10.212.5.200", primaryServerOption)))
	if res.Outcome != Mutated {
		t.Fatalf("outcome = %v", res.Outcome)
	}

	out := buf.String()
	for _, want := range []string{"reply=true", "cookie=true", "previous=172.16.0.10", "server=10.212.0.1"} {
		if !strings.Contains(out, want) {
			t.Errorf("debug output missing %q:\n%s", want, out)
		}
	}
}

func TestProcess_DebugReportsMisplacedPrimaryServer(t *testing.T) {
	var buf bytes.Buffer
	opt := []byte{3, 2, 'a', 'b', 1, 4, 1, 2, 3, 4}
	res := debugMangler(&buf).Process(NewBuffer(offerDatagram(t, "10.212.5.200", opt)))
	if res.Reason != ReasonShapeMismatch {
		t.Fatalf("reason = %s", res.Reason)
	}
	if !strings.Contains(buf.String(), "primary_server=1.2.3.4") {
		t.Errorf("debug output missing misplaced address:\n%s", buf.String())
	}
}

func TestPrimaryServer(t *testing.T) {
	tests := []struct {
		name  string
		value []byte
		want  [4]byte
		ok    bool
	}{
		{"leading", []byte{1, 4, 172, 16, 0, 10, 3, 1, 'x'}, [4]byte{172, 16, 0, 10}, true},
		{"after another sub-option", []byte{3, 2, 'a', 'b', 1, 4, 1, 2, 3, 4}, [4]byte{1, 2, 3, 4}, true},
		{"wrong length", []byte{1, 3, 10, 212, 0}, [4]byte{}, false},
		{"absent", []byte{3, 2, 'a', 'b'}, [4]byte{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opt := locate122(t, offerDatagram(t, "10.212.5.200", tt.value))
			got, ok := primaryServer(opt)
			if ok != tt.ok || got != tt.want {
				t.Errorf("primaryServer = %v, %v; want %v, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}
