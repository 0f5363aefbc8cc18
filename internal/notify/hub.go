// Package notify delivers realtime events to operator sockets grouped in
// rooms, optionally across processes through a pub/sub adapter.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	ErrHandshakeRejected = errors.New("notify: user_id and company_id are required")
	ErrBufferFull        = errors.New("notify: send buffer full")
	ErrClientGone        = errors.New("notify: client disconnected")
)

// Authorizer scopes call/chat room joins to the client's company.
type Authorizer interface {
	CanJoinCall(ctx context.Context, companyID, callID string) (bool, error)
	CanJoinChat(ctx context.Context, companyID, chatID string) (bool, error)
}

// RemoteMessage is what travels between nodes.
type RemoteMessage struct {
	Origin string `json:"origin"`
	Room   string `json:"room"`
	Data   []byte `json:"data"`
}

// Adapter relays room deliveries between processes.
type Adapter interface {
	Publish(ctx context.Context, msg RemoteMessage) error
	// Subscribe blocks, handing every message to fn until ctx is done.
	Subscribe(ctx context.Context, fn func(RemoteMessage)) error
	Close() error
}

type Hub struct {
	nodeID     string
	sendBuffer int
	log        *logrus.Logger
	authz      Authorizer

	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[string]map[string]*Client

	adapterMu sync.RWMutex
	adapter   Adapter
}

type Option func(*Hub)

func WithNodeID(id string) Option {
	return func(h *Hub) {
		if id != "" {
			h.nodeID = id
		}
	}
}

func WithAuthorizer(a Authorizer) Option {
	return func(h *Hub) { h.authz = a }
}

func WithSendBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

func NewHub(log *logrus.Logger, opts ...Option) *Hub {
	if log == nil {
		log = logrus.New()
	}
	h := &Hub{
		nodeID:     uuid.NewString(),
		sendBuffer: 256,
		log:        log,
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[string]*Client),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) NodeID() string { return h.nodeID }

// AttachAdapter enables cross-process delivery. A nil adapter keeps the hub
// single-process.
func (h *Hub) AttachAdapter(ctx context.Context, a Adapter) {
	if a == nil {
		h.log.Warn("notify: no pub/sub adapter attached, delivering to local sockets only")
		return
	}

	h.adapterMu.Lock()
	h.adapter = a
	h.adapterMu.Unlock()

	go func() {
		err := a.Subscribe(ctx, h.handleRemote)
		if err != nil && !errors.Is(err, context.Canceled) {
			h.log.WithError(err).Error("notify: pub/sub subscription ended")
		}
	}()
	h.log.WithField("node_id", h.nodeID).Info("notify: pub/sub adapter attached")
}

// Connect admits a socket. Both identifiers are required and no room is
// joined when either is missing.
func (h *Hub) Connect(userID, companyID string) (*Client, error) {
	if userID == "" || companyID == "" {
		h.log.WithFields(logrus.Fields{
			"user_id":    userID,
			"company_id": companyID,
		}).Warn("notify: handshake rejected")
		return nil, ErrHandshakeRejected
	}

	c := &Client{
		ID:        uuid.NewString(),
		UserID:    userID,
		CompanyID: companyID,
		send:      make(chan []byte, h.sendBuffer),
		rooms:     make(map[string]struct{}),
		hub:       h,
	}

	h.mu.Lock()
	h.clients[c.ID] = c
	h.joinLocked(c, UserRoom(userID))
	h.joinLocked(c, CompanyRoom(companyID))
	h.joinLocked(c, MemberRoom(companyID, userID))
	h.mu.Unlock()

	h.log.WithFields(logrus.Fields{
		"client_id":  c.ID,
		"user_id":    userID,
		"company_id": companyID,
	}).Debug("notify: client connected")
	return c, nil
}

// Disconnect removes the client from every room and closes its send channel.
func (h *Hub) Disconnect(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.ID)
	for room := range c.rooms {
		h.leaveLocked(c, room)
	}
	h.mu.Unlock()

	c.closeSend()
	h.log.WithField("client_id", c.ID).Debug("notify: client disconnected")
}

func (h *Hub) Join(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.ID]; !ok {
		return
	}
	h.joinLocked(c, room)
}

func (h *Hub) Leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, room)
}

func (h *Hub) joinLocked(c *Client, room string) {
	members := h.rooms[room]
	if members == nil {
		members = make(map[string]*Client)
		h.rooms[room] = members
	}
	members[c.ID] = c
	c.rooms[room] = struct{}{}
}

func (h *Hub) leaveLocked(c *Client, room string) {
	delete(c.rooms, room)
	if members := h.rooms[room]; members != nil {
		delete(members, c.ID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// RoomSize is the number of local sockets in room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Rooms lists the rooms c belongs to.
func (h *Hub) Rooms(c *Client) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		out = append(out, room)
	}
	return out
}

// Emit delivers event to every socket in room, locally and through the
// adapter when one is attached.
func (h *Hub) Emit(room, event string, payload any) {
	data, err := encode(event, payload)
	if err != nil {
		h.log.WithError(err).WithFields(logrus.Fields{"room": room, "event": event}).Error("notify: encode failed")
		return
	}

	h.deliverLocal(room, data)

	h.adapterMu.RLock()
	a := h.adapter
	h.adapterMu.RUnlock()
	if a == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.Publish(ctx, RemoteMessage{Origin: h.nodeID, Room: room, Data: data}); err != nil {
		h.log.WithError(err).WithFields(logrus.Fields{"room": room, "event": event}).Warn("notify: publish failed")
	}
}

func (h *Hub) EmitToUser(userID, event string, payload any) {
	h.Emit(UserRoom(userID), event, payload)
}

// EmitToMember reaches userID only on sockets admitted for companyID.
func (h *Hub) EmitToMember(companyID, userID, event string, payload any) {
	h.Emit(MemberRoom(companyID, userID), event, payload)
}

func (h *Hub) EmitToCompany(companyID, event string, payload any) {
	h.Emit(CompanyRoom(companyID), event, payload)
}

func (h *Hub) EmitToCall(callID, event string, payload any) {
	h.Emit(CallRoom(callID), event, payload)
}

func (h *Hub) EmitToChat(chatID, event string, payload any) {
	h.Emit(ChatRoom(chatID), event, payload)
}

func (h *Hub) handleRemote(msg RemoteMessage) {
	if msg.Origin == h.nodeID {
		return
	}
	h.deliverLocal(msg.Room, msg.Data)
}

func (h *Hub) deliverLocal(room string, data []byte) {
	var slow []*Client

	h.mu.RLock()
	for _, c := range h.rooms[room] {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.WithFields(logrus.Fields{"client_id": c.ID, "room": room}).Warn("notify: send buffer full, dropping client")
		h.Disconnect(c)
	}
}

// sendTo queues data for one socket only.
func (h *Hub) sendTo(c *Client, event string, payload any) error {
	data, err := encode(event, payload)
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c.ID]; !ok {
		return ErrClientGone
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// HandleClientMessage applies one client frame (room join/leave).
func (h *Hub) HandleClientMessage(ctx context.Context, c *Client, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		h.replyError(c, ErrCodeInvalidMessage, "invalid JSON message")
		return
	}

	var req RoomRequest
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &req); err != nil {
			h.replyError(c, ErrCodeInvalidMessage, "invalid "+env.Event+" payload")
			return
		}
	}

	switch env.Event {
	case EventJoinCall:
		h.joinChecked(ctx, c, req.CallID, CallRoom, h.canJoinCall)
	case EventJoinChat:
		h.joinChecked(ctx, c, req.ChatID, ChatRoom, h.canJoinChat)
	case EventLeaveCall:
		h.leaveChecked(c, req.CallID, CallRoom)
	case EventLeaveChat:
		h.leaveChecked(c, req.ChatID, ChatRoom)
	default:
		h.replyError(c, ErrCodeInvalidMessage, "unknown event: "+env.Event)
	}
}

type checkFunc func(ctx context.Context, companyID, id string) (bool, error)

func (h *Hub) joinChecked(ctx context.Context, c *Client, id string, roomOf func(string) string, check checkFunc) {
	if id == "" {
		h.replyError(c, ErrCodeInvalidMessage, "id is required")
		return
	}
	ok, err := check(ctx, c.CompanyID, id)
	if err != nil {
		h.log.WithError(err).WithField("client_id", c.ID).Error("notify: join authorization failed")
		h.replyError(c, ErrCodeInternal, "authorization failed")
		return
	}
	if !ok {
		h.replyError(c, ErrCodeForbidden, "not allowed to join "+roomOf(id))
		return
	}

	room := roomOf(id)
	h.Join(c, room)
	_ = h.sendTo(c, EventJoined, RoomAck{Room: room})
}

func (h *Hub) leaveChecked(c *Client, id string, roomOf func(string) string) {
	if id == "" {
		h.replyError(c, ErrCodeInvalidMessage, "id is required")
		return
	}
	room := roomOf(id)
	h.Leave(c, room)
	_ = h.sendTo(c, EventLeft, RoomAck{Room: room})
}

func (h *Hub) canJoinCall(ctx context.Context, companyID, callID string) (bool, error) {
	if h.authz == nil {
		return true, nil
	}
	return h.authz.CanJoinCall(ctx, companyID, callID)
}

func (h *Hub) canJoinChat(ctx context.Context, companyID, chatID string) (bool, error) {
	if h.authz == nil {
		return true, nil
	}
	return h.authz.CanJoinChat(ctx, companyID, chatID)
}

func (h *Hub) replyError(c *Client, code, message string) {
	_ = h.sendTo(c, EventError, ErrorPayload{Code: code, Message: message})
}

// Close detaches the adapter and drops every local socket.
func (h *Hub) Close() error {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		h.Disconnect(c)
	}

	h.adapterMu.Lock()
	a := h.adapter
	h.adapter = nil
	h.adapterMu.Unlock()
	if a != nil {
		return a.Close()
	}
	return nil
}
