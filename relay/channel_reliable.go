package relay

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"scene-relay/utils"
)

const (
	// reliableHeaderLen is the 4-byte little-endian length prefix.
	reliableHeaderLen = 4
	// maxReliablePayload is the spec'd 1 MiB cap; send() truncates rather
	// than erroring on anything bigger.
	maxReliablePayload = 1 << 20
	// reliableChunk is the read size used to drain a framed body.
	reliableChunk = 4096
	// pollTimeout bounds how long a blocking read/accept waits before the
	// loop re-checks its running flag.
	pollTimeout = time.Second
)

// ErrEmptyPayload is returned by Send when asked to frame a zero-length
// message — spec treats that as a programmer error, not something to send.
var ErrEmptyPayload = errors.New("relay: refusing to send an empty payload")

// errStopped unwinds readBody when Stop() fires mid-frame.
var errStopped = errors.New("relay: reader stopped mid-frame")

// ReliableChannel wraps one TCP socket with length-prefixed framing and a
// reader goroutine that polls a running flag so it can be shut down
// cooperatively.
type ReliableChannel struct {
	conn net.Conn

	running atomic.Bool
	sendMu  sync.Mutex
}

// NewReliableChannel wraps conn. conn's read deadline is managed entirely
// by the channel's reader loop.
func NewReliableChannel(conn net.Conn) *ReliableChannel {
	return &ReliableChannel{conn: conn}
}

// Start spins up the reader goroutine. onMessage is invoked once per framed
// payload, in arrival order. onClose fires exactly once, whether the peer
// closed the socket, a framing error occurred, or Stop was called.
func (c *ReliableChannel) Start(onMessage func([]byte), onClose func()) {
	c.running.Store(true)
	go c.readLoop(onMessage, onClose)
}

// Send truncates data to maxReliablePayload and frames+writes it. Sending an
// empty buffer is rejected outright.
func (c *ReliableChannel) Send(data []byte) error {
	if len(data) == 0 {
		return ErrEmptyPayload
	}
	if len(data) > maxReliablePayload {
		data = data[:maxReliablePayload]
	}
	header := make([]byte, reliableHeaderLen)
	binary.LittleEndian.PutUint32(header, uint32(len(data)))

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if _, err := c.conn.Write(header); err != nil {
		return err
	}
	_, err := c.conn.Write(data)
	return err
}

// Stop clears the running flag and closes the socket, which unblocks any
// pending read; the reader loop then exits and fires onClose.
func (c *ReliableChannel) Stop() {
	c.running.Store(false)
	_ = c.conn.Close()
}

func (c *ReliableChannel) readLoop(onMessage func([]byte), onClose func()) {
	defer func() {
		_ = c.conn.Close()
		onClose()
	}()

	header := make([]byte, reliableHeaderLen)
	headerRead := 0
	for c.running.Load() {
		_ = c.conn.SetReadDeadline(time.Now().Add(pollTimeout))
		n, err := io.ReadFull(c.conn, header[headerRead:])
		headerRead += n
		if err != nil {
			if isTimeout(err) {
				// A partial header survives the poll tick; the next
				// iteration resumes filling header[headerRead:] instead
				// of discarding what was already read.
				continue
			}
			return
		}
		headerRead = 0

		length := binary.LittleEndian.Uint32(header)
		if length > maxReliablePayload {
			utils.Logger.Warn("framing error: frame length exceeds cap, closing transport",
				zap.Uint32("length", length), zap.Uint32("max", maxReliablePayload))
			return
		}

		body, err := c.readBody(length)
		if err != nil {
			return
		}
		onMessage(body)
	}
}

func (c *ReliableChannel) readBody(length uint32) ([]byte, error) {
	body := make([]byte, length)
	var received uint32
	for received < length {
		if !c.running.Load() {
			return nil, errStopped
		}
		remaining := length - received
		chunk := reliableChunk
		if remaining < uint32(chunk) {
			chunk = int(remaining)
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pollTimeout))
		n, err := io.ReadFull(c.conn, body[received:received+uint32(chunk)])
		received += uint32(n)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return nil, err
		}
	}
	return body, nil
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
