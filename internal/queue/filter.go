package queue

import (
	"fmt"
	"sort"

	"github.com/vishvananda/netlink"
)

type linkByName func(name string) (netlink.Link, error)

// InterfaceFilter limits rewriting to datagrams leaving through a known set of
// interfaces. An empty filter admits everything.
type InterfaceFilter struct {
	byIndex map[uint32]string
}

func ResolveInterfaces(lookup linkByName, names []string) (*InterfaceFilter, error) {
	f := &InterfaceFilter{byIndex: make(map[uint32]string, len(names))}
	for _, name := range names {
		link, err := lookup(name)
		if err != nil {
			return nil, fmt.Errorf("interface %q not found: %w", name, err)
		}
		f.byIndex[uint32(link.Attrs().Index)] = name
	}
	return f, nil
}

func (f *InterfaceFilter) Empty() bool {
	return f == nil || len(f.byIndex) == 0
}

// Allows reports whether a datagram with the given egress ifindex may be
// rewritten. Without an egress device only an empty filter admits it.
func (f *InterfaceFilter) Allows(outDev *uint32) bool {
	if f.Empty() {
		return true
	}
	if outDev == nil {
		return false
	}
	_, ok := f.byIndex[*outDev]
	return ok
}

func (f *InterfaceFilter) Names() []string {
	if f == nil {
		return nil
	}
	names := make([]string, 0, len(f.byIndex))
	for _, name := range f.byIndex {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
