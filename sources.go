package smarterid

import (
	"crypto/rand"
	"io"
	"net"
	"time"
)

// ClockSource supplies 60-bit RFC 4122 timestamps.
type ClockSource interface {
	Now() (Timestamp, error)
}

// ClockFunc adapts a plain function to ClockSource.
type ClockFunc func() (Timestamp, error)

func (f ClockFunc) Now() (Timestamp, error) { return f() }

// SystemClock reads the wall clock.
type SystemClock struct {
	// NowFunc overrides time.Now, mainly for tests.
	NowFunc func() time.Time
}

func (c SystemClock) Now() (Timestamp, error) {
	now := time.Now
	if c.NowFunc != nil {
		now = c.NowFunc
	}
	t := now()
	if t.IsZero() {
		return 0, unavailable(ErrClockUnavailable, nil)
	}
	return TimestampFromTime(t), nil
}

// NodeSource supplies the 48-bit node id for version 1 UUIDs.
type NodeSource interface {
	Node() (Node, error)
}

// StaticNode always returns the same node id.
type StaticNode Node

func (n StaticNode) Node() (Node, error) { return Node(n), nil }

// RandomNode draws a node id from Entropy (crypto/rand when nil) and sets the
// multicast bit so it can never collide with a real IEEE 802 address.
type RandomNode struct {
	Entropy io.Reader
}

func (r RandomNode) Node() (Node, error) {
	var n Node
	src := r.Entropy
	if src == nil {
		src = rand.Reader
	}
	if _, err := io.ReadFull(src, n[:]); err != nil {
		return n, unavailable(ErrNodeUnavailable, unavailable(ErrEntropyUnavailable, err))
	}
	n[0] |= 0x01
	return n, nil
}

// HardwareNode uses the MAC address of the first interface that has one.
// With Fallback set, hosts without a usable interface get a random node.
type HardwareNode struct {
	// Interface restricts the lookup to one interface name.
	Interface string
	Fallback  NodeSource

	interfaces func() ([]net.Interface, error)
}

func (h HardwareNode) Node() (Node, error) {
	list := h.interfaces
	if list == nil {
		list = net.Interfaces
	}
	ifaces, err := list()
	if err == nil {
		for _, ifi := range ifaces {
			if h.Interface != "" && ifi.Name != h.Interface {
				continue
			}
			if n, ok := nodeFromHardwareAddr(ifi.HardwareAddr); ok {
				return n, nil
			}
		}
	}
	if h.Fallback != nil {
		return h.Fallback.Node()
	}
	return Node{}, unavailable(ErrNodeUnavailable, err)
}

func nodeFromHardwareAddr(hw net.HardwareAddr) (Node, bool) {
	var n Node
	if len(hw) != nodeLen {
		return n, false
	}
	copy(n[:], hw)
	if n == (Node{}) {
		return n, false
	}
	return n, true
}
