package relay

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"scene-relay/utils"
)

// Hub (the spec's TransportServer) is the relay registry: it maintains the
// set of live Transports, dispatches inbound control actions, and performs
// scene-scoped fan-out on both channels.
type Hub struct {
	mu      sync.RWMutex
	clients []*Transport
	nextID  uint64

	ports     *PortAllocator
	admission *AdmissionGuard
	listener  *Listener

	listenAddr string
}

// NewHub builds a Hub listening on listenAddr, allocating D-channel ports
// from [udpLow, udpHigh], admitting at most admissionLimit connections per
// source IP per admissionWindow.
func NewHub(listenAddr string, udpLow, udpHigh, admissionLimit int, admissionWindow time.Duration) *Hub {
	h := &Hub{
		ports:      NewPortAllocator(udpLow, udpHigh),
		admission:  NewAdmissionGuard(admissionLimit, admissionWindow),
		listenAddr: listenAddr,
	}
	h.listener = NewListener(listenAddr, h.onNewConnection)
	return h
}

// Start begins accepting connections.
func (h *Hub) Start() error {
	return h.listener.Start()
}

// Stop halts the Listener, then asks every currently registered client to
// stop; it does not wait for reader goroutines beyond that.
func (h *Hub) Stop() {
	h.listener.Stop()
	for _, tp := range h.snapshotClients() {
		tp.Stop()
	}
}

func (h *Hub) snapshotClients() []*Transport {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Transport, len(h.clients))
	copy(out, h.clients)
	return out
}

// onNewConnection is invoked by the Listener for each accepted socket.
// Append happens before start, deliberately: a client must be visible for
// fan-out before its own first reply is sent.
func (h *Hub) onNewConnection(conn net.Conn) {
	ip := stripPort(conn.RemoteAddr().String())
	if !h.admission.Allow(ip) {
		utils.Logger.Warn("rejecting connection, admission rate exceeded", zap.String("remote_ip", ip))
		_ = conn.Close()
		return
	}

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.mu.Unlock()

	tp := newTransport(id, conn, h)

	h.mu.Lock()
	h.clients = append(h.clients, tp)
	h.mu.Unlock()

	tp.start()
	tp.SendReliable(EncodeEnvelope(Envelope{Action: "Welcome!", Data: ""}))

	utils.Logger.Info("accepted connection",
		zap.Uint64("transport_id", id),
		zap.String("remote_addr", conn.RemoteAddr().String()))
}

// onTransportClosed removes tp from the registry. No-op if tp is already
// absent (idempotent-safe).
func (h *Hub) onTransportClosed(tp *Transport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, c := range h.clients {
		if c == tp {
			h.clients = append(h.clients[:i], h.clients[i+1:]...)
			utils.Logger.Info("removed client", zap.Uint64("transport_id", tp.ID()))
			return
		}
	}
}

// onReliableReceived parses the control envelope and dispatches it.
func (h *Hub) onReliableReceived(tp *Transport, raw []byte) {
	env, ok := DecodeEnvelope(raw)
	if !ok {
		utils.Logger.Warn("dropping malformed envelope", zap.Uint64("transport_id", tp.ID()))
		return
	}

	switch env.Action {
	case "create_udp_channel":
		h.handleCreateUDPChannel(tp)
	case "update_user":
		h.handleUpdateUser(tp, env.Data)
	case "update_status":
		h.handleUpdateStatus(tp, env.Data)
	case "list_clients":
		h.handleListClients(tp)
	case "broadcast":
		h.fanoutReliable(tp, raw)
	case "ping":
		h.handlePing(tp)
	default:
		utils.Logger.Info("dropping unrecognized action",
			zap.Uint64("transport_id", tp.ID()),
			zap.String("action", env.Action))
	}
}

// onUnreliableReceived performs scene-scoped fan-out of bytes over every
// other live Transport's D-channel.
func (h *Hub) onUnreliableReceived(tp *Transport, data []byte) {
	scene := tp.SceneID()
	for _, c := range h.snapshotClients() {
		if c == tp {
			continue
		}
		if c.SceneID() != scene {
			continue
		}
		c.SendUnreliable(data)
	}
}

func (h *Hub) handleCreateUDPChannel(tp *Transport) {
	if tp.hasDatagramChannel() {
		utils.Logger.Info("udp channel already exists, ignoring request", zap.Uint64("transport_id", tp.ID()))
		return
	}
	conn, port, err := h.ports.BindUDP(udpBindIP(h.listenAddr))
	if err != nil {
		utils.Logger.Error("udp port range exhausted, dropping request",
			zap.Uint64("transport_id", tp.ID()), zap.Error(err))
		return
	}
	tp.attachDatagramChannel(conn)
	tp.SendReliable(EncodeEnvelope(Envelope{
		Action: "create_udp_channel",
		Data:   strconv.Itoa(port),
	}))
}

func (h *Hub) handleUpdateUser(tp *Transport, data string) {
	var update UserProfileUpdate
	if err := decodeActionData(data, &update); err != nil {
		utils.Logger.Warn("dropping malformed update_user", zap.Uint64("transport_id", tp.ID()), zap.Error(err))
		return
	}
	tp.UpdateProfileUser(update)
}

func (h *Hub) handleUpdateStatus(tp *Transport, data string) {
	var update StatusUpdate
	if err := decodeActionData(data, &update); err != nil {
		utils.Logger.Warn("dropping malformed update_status", zap.Uint64("transport_id", tp.ID()), zap.Error(err))
		return
	}
	tp.UpdateProfileStatus(update)

	profile := tp.Profile()
	combined, err := json.Marshal(profile)
	if err != nil {
		utils.Logger.Error("failed to marshal rider_status_update", zap.Error(err))
		return
	}
	env := EncodeEnvelope(Envelope{Action: "rider_status_update", Data: string(combined)})
	h.fanoutReliable(tp, env)
}

func (h *Hub) handleListClients(tp *Transport) {
	var b strings.Builder
	for _, c := range h.snapshotClients() {
		profileJSON, err := json.Marshal(c.Profile())
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "%d, %s\n", c.ID(), profileJSON)
	}
	tp.SendReliable(EncodeEnvelope(Envelope{Action: "list_clients", Data: b.String()}))
}

func (h *Hub) handlePing(tp *Transport) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	tp.SendReliable(EncodeEnvelope(Envelope{Action: "pong", Data: now}))
}

// fanoutReliable delivers raw (the original framed bytes, unchanged) to
// every other live Transport sharing sender's scene.
func (h *Hub) fanoutReliable(sender *Transport, raw []byte) {
	scene := sender.SceneID()
	for _, c := range h.snapshotClients() {
		if c == sender {
			continue
		}
		if c.SceneID() != scene {
			continue
		}
		c.SendReliable(raw)
	}
}

func decodeActionData(data string, out interface{}) error {
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return err
	}
	return mapstructure.Decode(raw, out)
}

func stripPort(hostport string) string {
	if idx := strings.LastIndex(hostport, ":"); idx != -1 {
		return hostport[:idx]
	}
	return hostport
}

// udpBindIP derives a bind address for D-channel sockets from the TCP
// listen address: "" (all interfaces) stays "", "host:port" keeps host.
func udpBindIP(listenAddr string) string {
	host, _, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return ""
	}
	return host
}
