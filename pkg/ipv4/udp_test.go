package ipv4

import (
	"encoding/binary"
	"errors"
	"net"
	"testing"
)

func testPacket() []byte {
	payload := make([]byte, 300)
	for i := range payload {
		payload[i] = byte(i)
	}
	return BuildUDPPacket(net.ParseIP("10.0.0.1"), net.ParseIP("10.212.5.200"), 67, 68, payload)
}

func TestBuildUDPPacket(t *testing.T) {
	pkt := testPacket()

	if len(pkt) != HeaderMinLen+UDPHeaderLen+300 {
		t.Fatalf("len = %d", len(pkt))
	}
	if calculateChecksum(pkt[:HeaderMinLen]) != 0 {
		t.Error("ip header checksum does not verify")
	}
	ok, err := VerifyUDPChecksum(pkt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("udp checksum does not verify")
	}
}

func TestFixUDPChecksum(t *testing.T) {
	pkt := testPacket()
	pkt[HeaderMinLen+UDPHeaderLen+100] ^= 0xFF

	if ok, _ := VerifyUDPChecksum(pkt); ok {
		t.Fatal("expected checksum mismatch after payload change")
	}
	if err := FixUDPChecksum(pkt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok, _ := VerifyUDPChecksum(pkt); !ok {
		t.Error("checksum does not verify after fix")
	}
}

func TestFixUDPChecksum_DisabledStaysDisabled(t *testing.T) {
	pkt := testPacket()
	binary.BigEndian.PutUint16(pkt[HeaderMinLen+udpChecksumOff:], 0)

	if err := FixUDPChecksum(pkt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := binary.BigEndian.Uint16(pkt[HeaderMinLen+udpChecksumOff:]); got != 0 {
		t.Errorf("checksum = %#x, want 0", got)
	}
}

func TestApplyChecksum_Modes(t *testing.T) {
	pkt := testPacket()
	orig := binary.BigEndian.Uint16(pkt[HeaderMinLen+udpChecksumOff:])

	pkt[HeaderMinLen+UDPHeaderLen] ^= 0x01
	if err := ApplyChecksum(pkt, ChecksumKeep); err != nil {
		t.Fatalf("keep: %v", err)
	}
	if got := binary.BigEndian.Uint16(pkt[HeaderMinLen+udpChecksumOff:]); got != orig {
		t.Errorf("keep changed checksum to %#x", got)
	}

	if err := ApplyChecksum(pkt, ChecksumZero); err != nil {
		t.Fatalf("zero: %v", err)
	}
	if got := binary.BigEndian.Uint16(pkt[HeaderMinLen+udpChecksumOff:]); got != 0 {
		t.Errorf("zero left checksum %#x", got)
	}

	if err := ApplyChecksum(pkt, ChecksumMode("bogus")); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestApplyChecksum_NotUDP(t *testing.T) {
	pkt := testPacket()
	pkt[9] = 6

	if err := ApplyChecksum(pkt, ChecksumRecompute); !errors.Is(err, ErrNotUDP) {
		t.Errorf("err = %v, want ErrNotUDP", err)
	}
	if err := ApplyChecksum(pkt[:10], ChecksumZero); !errors.Is(err, ErrNotUDP) {
		t.Errorf("err = %v, want ErrNotUDP", err)
	}
}

func TestApplyChecksum_TruncatedTotalLength(t *testing.T) {
	pkt := testPacket()
	if err := ApplyChecksum(pkt[:100], ChecksumRecompute); !errors.Is(err, ErrNotUDP) {
		t.Errorf("err = %v, want ErrNotUDP", err)
	}
}

func TestChecksumMode_Valid(t *testing.T) {
	for _, m := range []ChecksumMode{ChecksumRecompute, ChecksumZero, ChecksumKeep} {
		if !m.Valid() {
			t.Errorf("%q should be valid", m)
		}
	}
	if ChecksumMode("").Valid() {
		t.Error("empty mode should not be valid")
	}
}

func TestTruncated(t *testing.T) {
	pkt := testPacket()

	if Truncated(pkt) {
		t.Error("complete datagram reported truncated")
	}
	if !Truncated(pkt[:len(pkt)-1]) {
		t.Error("datagram missing its last byte not reported truncated")
	}
	if !Truncated(pkt[:HeaderMinLen-1]) {
		t.Error("partial header not reported truncated")
	}
	if Truncated(append(pkt, 0, 0, 0, 0)) {
		t.Error("trailing bytes past total length reported truncated")
	}
}
