package relay

import (
	"bytes"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// maxDatagramPayload is sized to fit inside a common MTU.
const maxDatagramPayload = 1472

// probePayload is the reserved address-discovery handshake. The client
// sends it once, as its first datagram, so the server can learn the
// client's NATted source port; the server absorbs it and never dispatches
// it as application data.
var probePayload = []byte("010011000111")

// DatagramChannel wraps one UDP socket. The remote address is unknown at
// construction and is learned from the first inbound datagram.
type DatagramChannel struct {
	conn net.PacketConn

	running atomic.Bool
	sendMu  sync.Mutex

	peerMu sync.RWMutex
	peer   net.Addr
}

func NewDatagramChannel(conn net.PacketConn) *DatagramChannel {
	return &DatagramChannel{conn: conn}
}

// LocalPort reports the UDP port this channel is bound to.
func (c *DatagramChannel) LocalPort() int {
	if addr, ok := c.conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.Port
	}
	return 0
}

// Start spins up the reader goroutine. onMessage fires once per inbound
// application datagram (the probe handshake is filtered out before it ever
// reaches onMessage). onClose fires exactly once.
func (c *DatagramChannel) Start(onMessage func([]byte), onClose func()) {
	c.running.Store(true)
	go c.readLoop(onMessage, onClose)
}

// Send silently drops the payload until the peer address has been learned;
// there is nowhere to send it yet.
func (c *DatagramChannel) Send(data []byte) {
	peer := c.learnedPeer()
	if peer == nil {
		return
	}
	if len(data) > maxDatagramPayload {
		data = data[:maxDatagramPayload]
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	_, _ = c.conn.WriteTo(data, peer)
}

func (c *DatagramChannel) Stop() {
	c.running.Store(false)
	_ = c.conn.Close()
}

func (c *DatagramChannel) learnedPeer() net.Addr {
	c.peerMu.RLock()
	defer c.peerMu.RUnlock()
	return c.peer
}

func (c *DatagramChannel) readLoop(onMessage func([]byte), onClose func()) {
	defer func() {
		_ = c.conn.Close()
		onClose()
	}()

	buf := make([]byte, maxDatagramPayload)
	for c.running.Load() {
		_ = c.conn.SetReadDeadline(time.Now().Add(pollTimeout))
		n, addr, err := c.conn.ReadFrom(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return
		}

		learned := c.learnedPeer()
		if learned == nil {
			c.peerMu.Lock()
			c.peer = addr
			c.peerMu.Unlock()
		} else if learned.String() != addr.String() {
			// Chosen safer default: once learned, ignore datagrams from any
			// other address rather than re-learning or mixing sources.
			continue
		}

		if bytes.Equal(buf[:n], probePayload) {
			continue
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])
		onMessage(payload)
	}
}
