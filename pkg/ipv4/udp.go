package ipv4

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
)

const (
	HeaderMinLen   = 20
	UDPHeaderLen   = 8
	ProtocolUDP    = 17
	udpChecksumOff = 6
)

type ChecksumMode string

const (
	ChecksumRecompute ChecksumMode = "recompute"
	ChecksumZero      ChecksumMode = "zero"
	ChecksumKeep      ChecksumMode = "keep"
)

func (m ChecksumMode) Valid() bool {
	switch m {
	case ChecksumRecompute, ChecksumZero, ChecksumKeep:
		return true
	}
	return false
}

var ErrNotUDP = errors.New("not an ipv4 udp datagram")

// BuildUDPPacket wraps payload in a minimal IPv4 + UDP header with valid checksums.
// Truncated reports whether datagram holds fewer bytes than its IPv4 total
// length claims, as happens with a short capture or queue copy range.
func Truncated(datagram []byte) bool {
	if len(datagram) < HeaderMinLen {
		return true
	}
	return int(binary.BigEndian.Uint16(datagram[2:4])) > len(datagram)
}

func BuildUDPPacket(srcIP, dstIP net.IP, srcPort, dstPort uint16, payload []byte) []byte {
	totalLen := HeaderMinLen + UDPHeaderLen + len(payload)
	packet := make([]byte, totalLen)

	ipHeader := packet[:HeaderMinLen]
	ipHeader[0] = 0x45
	binary.BigEndian.PutUint16(ipHeader[2:4], uint16(totalLen))
	ipHeader[8] = 64
	ipHeader[9] = ProtocolUDP
	copy(ipHeader[12:16], srcIP.To4())
	copy(ipHeader[16:20], dstIP.To4())

	ipChecksum := calculateChecksum(ipHeader)
	binary.BigEndian.PutUint16(ipHeader[10:12], ipChecksum)

	udpHeader := packet[HeaderMinLen : HeaderMinLen+UDPHeaderLen]
	binary.BigEndian.PutUint16(udpHeader[0:2], srcPort)
	binary.BigEndian.PutUint16(udpHeader[2:4], dstPort)
	binary.BigEndian.PutUint16(udpHeader[4:6], uint16(UDPHeaderLen+len(payload)))

	copy(packet[HeaderMinLen+UDPHeaderLen:], payload)

	udpChecksum := calculateUDPChecksum(srcIP.To4(), dstIP.To4(), udpHeader, payload)
	binary.BigEndian.PutUint16(udpHeader[6:8], udpChecksum)

	return packet
}

// ApplyChecksum brings the UDP checksum of datagram in line with mode after its
// payload changed. A zero checksum means the sender disabled it and is kept.
func ApplyChecksum(datagram []byte, mode ChecksumMode) error {
	switch mode {
	case ChecksumKeep, "":
		return nil
	case ChecksumZero:
		udp, err := udpSegment(datagram)
		if err != nil {
			return err
		}
		binary.BigEndian.PutUint16(udp[udpChecksumOff:], 0)
		return nil
	case ChecksumRecompute:
		return FixUDPChecksum(datagram)
	default:
		return fmt.Errorf("unknown checksum mode %q", mode)
	}
}

func FixUDPChecksum(datagram []byte) error {
	udp, err := udpSegment(datagram)
	if err != nil {
		return err
	}

	if binary.BigEndian.Uint16(udp[udpChecksumOff:]) == 0 {
		return nil
	}

	binary.BigEndian.PutUint16(udp[udpChecksumOff:], 0)
	sum := calculateUDPChecksum(datagram[12:16], datagram[16:20], udp[:UDPHeaderLen], udp[UDPHeaderLen:])
	binary.BigEndian.PutUint16(udp[udpChecksumOff:], sum)
	return nil
}

// VerifyUDPChecksum reports whether the UDP checksum of datagram is valid, or
// disabled.
func VerifyUDPChecksum(datagram []byte) (bool, error) {
	udp, err := udpSegment(datagram)
	if err != nil {
		return false, err
	}

	want := binary.BigEndian.Uint16(udp[udpChecksumOff:])
	if want == 0 {
		return true, nil
	}

	scratch := make([]byte, UDPHeaderLen)
	copy(scratch, udp[:UDPHeaderLen])
	binary.BigEndian.PutUint16(scratch[udpChecksumOff:], 0)
	return calculateUDPChecksum(datagram[12:16], datagram[16:20], scratch, udp[UDPHeaderLen:]) == want, nil
}

func udpSegment(datagram []byte) ([]byte, error) {
	if len(datagram) < HeaderMinLen || datagram[0]>>4 != 4 || datagram[9] != ProtocolUDP {
		return nil, ErrNotUDP
	}

	ihl := int(datagram[0]&0x0f) * 4
	total := int(binary.BigEndian.Uint16(datagram[2:4]))
	if ihl < HeaderMinLen || total > len(datagram) || total < ihl+UDPHeaderLen {
		return nil, fmt.Errorf("%w: bad lengths ihl=%d total=%d captured=%d", ErrNotUDP, ihl, total, len(datagram))
	}

	udp := datagram[ihl:total]
	udpLen := int(binary.BigEndian.Uint16(udp[4:6]))
	if udpLen < UDPHeaderLen || udpLen > len(udp) {
		return nil, fmt.Errorf("%w: udp length %d exceeds %d", ErrNotUDP, udpLen, len(udp))
	}

	return udp[:udpLen], nil
}

func calculateChecksum(data []byte) uint16 {
	sum := uint32(0)
	for i := 0; i < len(data); i += 2 {
		if i+1 < len(data) {
			sum += uint32(data[i])<<8 | uint32(data[i+1])
		} else {
			sum += uint32(data[i]) << 8
		}
	}
	for sum > 0xffff {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}

func calculateUDPChecksum(srcIP, dstIP []byte, udpHeader, payload []byte) uint16 {
	pseudoHeader := make([]byte, 12, 12+len(udpHeader)+len(payload))
	copy(pseudoHeader[0:4], srcIP)
	copy(pseudoHeader[4:8], dstIP)
	pseudoHeader[9] = ProtocolUDP
	binary.BigEndian.PutUint16(pseudoHeader[10:12], uint16(len(udpHeader)+len(payload)))

	data := append(pseudoHeader, udpHeader...)
	data = append(data, payload...)

	checksum := calculateChecksum(data)
	if checksum == 0 {
		checksum = 0xFFFF
	}

	return checksum
}
