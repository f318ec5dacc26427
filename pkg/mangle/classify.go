package mangle

import (
	"github.com/google/gopacket/layers"
	"github.com/veesix-networks/cmopt122/pkg/dhcp"
	"inet.af/netaddr"
)

const (
	BootpServerPort = 67

	// MinPayloadLen is well above the fixed DHCP header; shorter payloads are
	// skipped without parsing.
	MinPayloadLen = 300
)

type Reason string

const (
	ReasonMalformed     Reason = "malformed"
	ReasonNotUDP        Reason = "not_udp"
	ReasonFragment      Reason = "fragment"
	ReasonNotBootps     Reason = "not_bootps"
	ReasonShortPayload  Reason = "short_payload"
	ReasonUnwatched     Reason = "unwatched"
	ReasonWatched       Reason = "watched"
	ReasonNoOption      Reason = "no_option122"
	ReasonShapeMismatch Reason = "shape_mismatch"
	ReasonNotWritable   Reason = "not_writable"
	ReasonStale         Reason = "revalidate_failed"
	ReasonRewritten     Reason = "rewritten"
)

// AddressClass tells whether an offered address belongs to the cable modem
// ranges and, if so, which primary DHCP server its modem must be pointed at.
type AddressClass struct {
	Watched bool
	Server  [4]byte
}

func (c AddressClass) ServerIP() netaddr.IP {
	return netaddr.IPFrom4(c.Server)
}

// ClassifyAddress matches 10.212.0.0/16 and 10.213.0.0/16. The 212 block has a
// single server at 10.212.0.1; the 213 block is split in four /18s, each with
// its server at .1 of the first /24.
func ClassifyAddress(yiaddr [4]byte) AddressClass {
	if yiaddr[0] != 10 || yiaddr[1]&0xFE != 212 {
		return AddressClass{}
	}

	server := [4]byte{10, yiaddr[1], 0, 1}
	if yiaddr[1] == 212 {
		server[2] = yiaddr[2] & 0x00
	} else {
		server[2] = yiaddr[2] & 0xC0
	}

	return AddressClass{Watched: true, Server: server}
}

type Decision struct {
	Inspect bool
	Reason  Reason
	Message dhcp.Message
	Class   AddressClass
}

func passThrough(reason Reason) Decision {
	return Decision{Reason: reason}
}

// Classify decides whether a UDP payload is a BOOTP server reply for a watched
// client. It only reads.
func Classify(ip *layers.IPv4, udp *layers.UDP, payload []byte) Decision {
	if ip == nil || ip.Protocol != layers.IPProtocolUDP {
		return passThrough(ReasonNotUDP)
	}

	if udp == nil || udp.SrcPort != BootpServerPort {
		return passThrough(ReasonNotBootps)
	}

	if len(payload) < MinPayloadLen {
		return passThrough(ReasonShortPayload)
	}

	msg, err := dhcp.NewMessage(payload)
	if err != nil {
		return passThrough(ReasonShortPayload)
	}

	class := ClassifyAddress(msg.YIAddr())
	if !class.Watched {
		return passThrough(ReasonUnwatched)
	}

	return Decision{
		Inspect: true,
		Reason:  ReasonWatched,
		Message: msg,
		Class:   class,
	}
}
