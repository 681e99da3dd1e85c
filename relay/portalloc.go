package relay

import (
	"errors"
	"net"
	"sync"
)

// ErrPortRangeExhausted surfaces when every port in the configured range
// failed to bind; the caller drops the create_udp_channel request (reply
// omitted) rather than propagating a crash.
var ErrPortRangeExhausted = errors.New("relay: udp port range exhausted")

// PortAllocator hands out UDP ports from a bounded cycling range, retrying
// on bind collision. The retry loop lives here rather than at call sites.
type PortAllocator struct {
	mu     sync.Mutex
	cursor int
	low    int
	high   int
}

// NewPortAllocator builds an allocator over [low, high]; the cursor starts
// one below low so the first Next() call returns low.
func NewPortAllocator(low, high int) *PortAllocator {
	return &PortAllocator{cursor: low - 1, low: low, high: high}
}

// Next advances the cursor by one, wrapping high+1 back to low.
func (p *PortAllocator) Next() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cursor++
	if p.cursor > p.high {
		p.cursor = p.low
	}
	return p.cursor
}

// BindUDP tries successive ports from Next() until one binds, giving up
// after a full cycle of the range.
func (p *PortAllocator) BindUDP(ip string) (*net.UDPConn, int, error) {
	attempts := p.high - p.low + 1
	for i := 0; i < attempts; i++ {
		port := p.Next()
		conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP(ip), Port: port})
		if err == nil {
			return conn, port, nil
		}
	}
	return nil, 0, ErrPortRangeExhausted
}
