package queue

import (
	"fmt"

	"github.com/veesix-networks/cmopt122/pkg/ipv4"
	"github.com/veesix-networks/cmopt122/pkg/mangle"
)

// packet is a queued datagram. The kernel may hand over less than the whole
// datagram when the copy range is smaller than the packet; such a packet can
// be inspected but never written back.
type packet struct {
	data []byte
}

func newPacket(data []byte) *packet {
	return &packet{data: data}
}

func (p *packet) Bytes() []byte {
	return p.data
}

func (p *packet) MakeWritable() ([]byte, error) {
	if ipv4.Truncated(p.data) {
		return nil, fmt.Errorf("%w: captured %d bytes", mangle.ErrNotWritable, len(p.data))
	}
	out := make([]byte, len(p.data))
	copy(out, p.data)
	return out, nil
}
