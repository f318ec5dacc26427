package stats

import (
	"sort"
	"sync"

	"github.com/veesix-networks/cmopt122/pkg/mangle"
)

type PacketKey struct {
	Outcome string
	Reason  string
}

type PacketCount struct {
	PacketKey
	Count uint64
}

type Snapshot struct {
	Packets     []PacketCount
	QueueErrors uint64
}

// Counters accumulates per-packet outcomes between scrapes.
type Counters struct {
	mu          sync.Mutex
	packets     map[PacketKey]uint64
	queueErrors uint64
}

func New() *Counters {
	return &Counters{
		packets: make(map[PacketKey]uint64),
	}
}

func (c *Counters) Observe(res mangle.Result) {
	key := PacketKey{Outcome: res.Outcome.String(), Reason: string(res.Reason)}

	c.mu.Lock()
	c.packets[key]++
	c.mu.Unlock()
}

func (c *Counters) QueueError() {
	c.mu.Lock()
	c.queueErrors++
	c.mu.Unlock()
}

func (c *Counters) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		Packets:     make([]PacketCount, 0, len(c.packets)),
		QueueErrors: c.queueErrors,
	}
	for key, n := range c.packets {
		snap.Packets = append(snap.Packets, PacketCount{PacketKey: key, Count: n})
	}
	sort.Slice(snap.Packets, func(i, j int) bool {
		a, b := snap.Packets[i], snap.Packets[j]
		if a.Outcome != b.Outcome {
			return a.Outcome < b.Outcome
		}
		return a.Reason < b.Reason
	})

	return snap
}
