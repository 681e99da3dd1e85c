package relay

import (
	"net"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"scene-relay/utils"
)

// Transport is the per-client object pairing one reliable channel with at
// most one datagram channel, carrying client identity and scene membership.
type Transport struct {
	id      uint64
	traceID uuid.UUID

	hub *Hub

	r *ReliableChannel

	dMu sync.RWMutex
	d   *DatagramChannel

	profileMu sync.RWMutex
	profile   Profile

	closeOnce sync.Once
}

func newTransport(id uint64, conn net.Conn, hub *Hub) *Transport {
	return &Transport{
		id:      id,
		traceID: uuid.New(),
		hub:     hub,
		r:       NewReliableChannel(conn),
		profile: newProfile(),
	}
}

// ID returns the transport's stable, monotonically assigned identifier.
func (t *Transport) ID() uint64 { return t.id }

// SceneID reads the client's current scene membership.
func (t *Transport) SceneID() string {
	t.profileMu.RLock()
	defer t.profileMu.RUnlock()
	return t.profile.SceneID
}

// Profile returns a copy of the client's current profile.
func (t *Transport) Profile() Profile {
	t.profileMu.RLock()
	defer t.profileMu.RUnlock()
	return t.profile
}

// start spins up the R-channel reader. Must be called at most once.
func (t *Transport) start() {
	t.r.Start(t.onReliableMessage, t.onReliableClosed)
}

// SendReliable forwards to the R-channel, which is present for the
// transport's entire lifetime.
func (t *Transport) SendReliable(data []byte) {
	if err := t.r.Send(data); err != nil {
		utils.Logger.Warn("send on reliable channel failed",
			zap.Uint64("transport_id", t.id),
			zap.String("trace_id", t.traceID.String()),
			zap.Error(err))
	}
}

// SendUnreliable forwards to the D-channel; silently a no-op if one does
// not exist yet or hasn't learned the peer address.
func (t *Transport) SendUnreliable(data []byte) {
	d := t.datagramChannel()
	if d == nil {
		return
	}
	d.Send(data)
}

func (t *Transport) datagramChannel() *DatagramChannel {
	t.dMu.RLock()
	defer t.dMu.RUnlock()
	return t.d
}

// hasDatagramChannel reports whether create_udp_channel has already been
// serviced for this transport.
func (t *Transport) hasDatagramChannel() bool {
	return t.datagramChannel() != nil
}

// attachDatagramChannel wires up and starts a new D-channel. The caller
// (Hub) is responsible for ensuring this is only called once per transport.
func (t *Transport) attachDatagramChannel(conn *net.UDPConn) *DatagramChannel {
	d := NewDatagramChannel(conn)
	t.dMu.Lock()
	t.d = d
	t.dMu.Unlock()
	d.Start(t.onUnreliableMessage, t.onUnreliableClosed)
	return d
}

// UpdateProfileUser overwrites the user-identity fields.
func (t *Transport) UpdateProfileUser(u UserProfileUpdate) {
	t.profileMu.Lock()
	defer t.profileMu.Unlock()
	t.profile.UserID = u.UserID
	t.profile.UserName = u.UserName
	t.profile.UserDomain = u.UserDomain
}

// UpdateProfileStatus overwrites the rider-status fields.
func (t *Transport) UpdateProfileStatus(s StatusUpdate) {
	t.profileMu.Lock()
	defer t.profileMu.Unlock()
	t.profile.SceneID = s.SceneID
	t.profile.ScenePos = s.ScenePos
	t.profile.Speed = s.Speed
}

func (t *Transport) onReliableMessage(data []byte) {
	t.hub.onReliableReceived(t, data)
}

func (t *Transport) onUnreliableMessage(data []byte) {
	t.hub.onUnreliableReceived(t, data)
}

func (t *Transport) onReliableClosed() {
	t.Stop()
}

func (t *Transport) onUnreliableClosed() {
	t.Stop()
}

// Stop transitions the transport to closed exactly once: stops both
// readers, closes both sockets, and notifies the Hub's removal callback.
func (t *Transport) Stop() {
	t.closeOnce.Do(func() {
		t.r.Stop()
		if d := t.datagramChannel(); d != nil {
			d.Stop()
		}
		t.hub.onTransportClosed(t)
	})
}
