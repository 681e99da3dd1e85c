package relay

import (
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"scene-relay/utils"
)

// Listener accepts new reliable connections and hands them to onNewConn.
// Accept uses a short poll timeout so Stop is cooperative.
type Listener struct {
	addr      string
	onNewConn func(net.Conn)

	ln      net.Listener
	running atomic.Bool
}

func NewListener(addr string, onNewConn func(net.Conn)) *Listener {
	return &Listener{addr: addr, onNewConn: onNewConn}
}

// Start binds the listening socket and spawns the accept loop.
func (l *Listener) Start() error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return err
	}
	l.ln = ln
	l.running.Store(true)
	utils.Logger.Info("listening", zap.String("addr", l.addr))
	go l.acceptLoop()
	return nil
}

// Stop halts the accept loop and closes the listening socket.
func (l *Listener) Stop() {
	l.running.Store(false)
	if l.ln != nil {
		_ = l.ln.Close()
	}
}

func (l *Listener) acceptLoop() {
	tl, ok := l.ln.(*net.TCPListener)
	for l.running.Load() {
		if ok {
			_ = tl.SetDeadline(time.Now().Add(pollTimeout))
		}
		conn, err := l.ln.Accept()
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if !l.running.Load() {
				return
			}
			utils.Logger.Error("accept failed", zap.Error(err))
			time.Sleep(pollTimeout)
			continue
		}
		l.onNewConn(conn)
	}
}
