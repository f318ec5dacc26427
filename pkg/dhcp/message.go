package dhcp

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	HeaderSize     = 236
	MagicCookie    = 0x63825363
	MinMessageSize = HeaderSize + 4
	CHAddrLen      = 16
	SNameLen       = 64
	FileLen        = 128
)

const (
	offYIAddr      = 16
	offCHAddr      = 28
	offSName       = 44
	offFile        = 108
	offMagicCookie = 236
	offOptions     = MinMessageSize
)

const (
	OpRequest uint8 = 1
	OpReply   uint8 = 2
)

var ErrShortMessage = errors.New("dhcp message shorter than fixed header and magic cookie")

type MessageType uint8

const (
	DHCPDiscover MessageType = 1
	DHCPOffer    MessageType = 2
	DHCPRequest  MessageType = 3
	DHCPDecline  MessageType = 4
	DHCPAck      MessageType = 5
	DHCPNak      MessageType = 6
	DHCPRelease  MessageType = 7
	DHCPInform   MessageType = 8
)

func (mt MessageType) String() string {
	switch mt {
	case DHCPDiscover:
		return "DHCPDISCOVER"
	case DHCPOffer:
		return "DHCPOFFER"
	case DHCPRequest:
		return "DHCPREQUEST"
	case DHCPDecline:
		return "DHCPDECLINE"
	case DHCPAck:
		return "DHCPACK"
	case DHCPNak:
		return "DHCPNAK"
	case DHCPRelease:
		return "DHCPRELEASE"
	case DHCPInform:
		return "DHCPINFORM"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", mt)
	}
}

// Message is a view over a BOOTP/DHCP payload. It never copies: every accessor
// returns data read from, or slices aliasing, the underlying buffer.
type Message struct {
	buf []byte
}

func NewMessage(data []byte) (Message, error) {
	if len(data) < MinMessageSize {
		return Message{}, fmt.Errorf("%w: %d bytes", ErrShortMessage, len(data))
	}
	return Message{buf: data}, nil
}

func (m Message) Bytes() []byte { return m.buf }
func (m Message) Op() uint8     { return m.buf[0] }
func (m Message) HType() uint8  { return m.buf[1] }
func (m Message) HLen() uint8   { return m.buf[2] }
func (m Message) Hops() uint8   { return m.buf[3] }

func (m Message) XID() uint32 {
	return binary.BigEndian.Uint32(m.buf[4:8])
}

func (m Message) Flags() uint16 {
	return binary.BigEndian.Uint16(m.buf[10:12])
}

func (m Message) CIAddr() [4]byte { return m.addr(12) }
func (m Message) YIAddr() [4]byte { return m.addr(offYIAddr) }
func (m Message) SIAddr() [4]byte { return m.addr(20) }
func (m Message) GIAddr() [4]byte { return m.addr(24) }

func (m Message) addr(off int) [4]byte {
	var a [4]byte
	copy(a[:], m.buf[off:off+4])
	return a
}

// CHAddr returns the client hardware address, clamped to the 16 byte field.
func (m Message) CHAddr() []byte {
	n := int(m.HLen())
	if n > CHAddrLen {
		n = CHAddrLen
	}
	return m.buf[offCHAddr : offCHAddr+n]
}

func (m Message) SName() []byte { return m.buf[offSName : offSName+SNameLen] }
func (m Message) File() []byte  { return m.buf[offFile : offFile+FileLen] }

func (m Message) Options() []byte { return m.buf[offOptions:] }

func (m Message) HasMagicCookie() bool {
	return binary.BigEndian.Uint32(m.buf[offMagicCookie:offOptions]) == MagicCookie
}

func (m Message) IsReply() bool {
	return m.Op() == OpReply
}

// MessageType returns the value of option 53, or 0 when absent or malformed.
func (m Message) MessageType() MessageType {
	opt, ok := FindOption(m, OptionMessageType)
	if !ok || len(opt.Value()) != 1 {
		return 0
	}
	return MessageType(opt.Value()[0])
}

func (m Message) region(space OptionSpace) (start, size int) {
	switch space {
	case SpaceFile:
		return offFile, FileLen
	case SpaceSName:
		return offSName, SNameLen
	default:
		return offOptions, len(m.buf) - offOptions
	}
}
