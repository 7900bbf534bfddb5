// Package service coordinates chat sessions: it moves every connection
// through its lifecycle, dispatches inbound events to room, presence and
// conversation state, and fans announcements out to affected connections.
//
// All mutations of shared state happen under a single lock, so events from
// different connections are processed one at a time. The lock is never held
// across credential verification.
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/adwski/chatroom-server/backend/model"
	"github.com/adwski/chatroom-server/backend/presence"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

const (
	DefaultSweepInterval = time.Hour
)

var (
	ErrRateLimited      = errors.New("rate limit exceeded")
	ErrAuthentication   = errors.New("authentication failed")
	ErrNotActive        = errors.New("session is not active")
	ErrDuplicateConn    = errors.New("connection id is already in use")
	ErrUnknownEvent     = errors.New("unknown event")
	ErrValidation       = errors.New("invalid event payload")
	ErrUsernameMismatch = errors.New("username differs from the authenticated one")
)

type (
	Verifier interface {
		Verify(token string) (string, error)
	}

	Limiter interface {
		Admit(connID string) bool
		Forget(connID string)
	}

	Identities interface {
		Bind(username, connID string)
		Resolve(username string) (string, bool)
		UnbindByConnection(connID string) (string, bool)
	}

	RoomStore interface {
		Join(room, username, password, connID string) ([]model.Member, []model.Message, error)
		PostMessage(room, author, text string) (model.Message, error)
		Leave(connID string) map[string][]model.Member
		SweepEmpty() []string
		Connections(room string) []string
	}

	Conversations interface {
		Send(from, to, text string) (model.PrivateMessage, error)
		History(a, b string) []model.PrivateMessage
	}

	Switch interface {
		Connect(connID string, wire model.Wire)
		Disconnect(connID string)
		Online(connID string) bool
		Send(connID string, ann model.Announcement) bool
		Broadcast(dst []string, ann model.Announcement) int
	}

	Config struct {
		Logger        *zerolog.Logger
		Verifier      Verifier
		Limiter       Limiter
		Identities    Identities
		Rooms         RoomStore
		Conversations Conversations
		Switch        Switch
		TypingTTL     time.Duration
		// Now is used as a clock source, time.Now is used if nil.
		Now func() time.Time
	}

	// Service is the session coordinator.
	Service struct {
		verifier      Verifier
		limiter       Limiter
		identities    Identities
		rooms         RoomStore
		conversations Conversations
		sw            Switch
		presence      *presence.Tracker
		validate      *validator.Validate
		now           func() time.Time

		mx       *sync.Mutex
		sessions map[string]*session

		logger zerolog.Logger
	}
)

func NewService(cfg Config) *Service {
	svc := &Service{
		verifier:      cfg.Verifier,
		limiter:       cfg.Limiter,
		identities:    cfg.Identities,
		rooms:         cfg.Rooms,
		conversations: cfg.Conversations,
		sw:            cfg.Switch,
		validate:      validator.New(),
		now:           cfg.Now,
		mx:            &sync.Mutex{},
		sessions:      make(map[string]*session),
		logger:        cfg.Logger.With().Str("component", "coordinator").Logger(),
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	svc.presence = presence.NewTracker(presence.Config{
		TTL:      cfg.TypingTTL,
		OnExpire: svc.expireTyping,
	})
	return svc
}

// Connect opens a session for connID and authenticates it with token.
// On success the connection is Active and receives announcements on wire.
// On failure the session is already cleaned up and the caller must close
// the connection.
func (svc *Service) Connect(ctx context.Context, connID, token string, wire model.Wire) (string, error) {
	svc.mx.Lock()
	if _, ok := svc.sessions[connID]; ok {
		svc.mx.Unlock()
		return "", ErrDuplicateConn
	}
	sess := &session{
		connID:    connID,
		state:     StateConnecting,
		createdAt: svc.now(),
	}
	svc.sessions[connID] = sess
	if !svc.limiter.Admit(connID) {
		svc.disconnect(connID)
		svc.mx.Unlock()
		return "", ErrRateLimited
	}
	sess.state = StateAuthenticating
	svc.mx.Unlock()

	username, errV := svc.verifier.Verify(token)
	if errV == nil {
		errV = ctx.Err()
	}

	svc.mx.Lock()
	defer svc.mx.Unlock()

	if sess.state != StateAuthenticating {
		// disconnected while verifying
		return "", ErrNotActive
	}
	if errV != nil {
		svc.disconnect(connID)
		return "", errors.Join(ErrAuthentication, errV)
	}

	sess.username = username
	sess.state = StateActive
	svc.identities.Bind(username, connID)
	svc.sw.Connect(connID, wire)

	svc.logger.Debug().
		Str("connID", connID).
		Str("username", username).
		Msg("session is active")
	return username, nil
}

// Handle processes a single inbound event of an Active connection.
// ErrRateLimited and ErrNotActive are terminal: the session is already
// cleaned up and the caller must close the connection.
func (svc *Service) Handle(connID string, evt model.Event) error {
	svc.mx.Lock()
	defer svc.mx.Unlock()

	sess, ok := svc.sessions[connID]
	if !ok || sess.state != StateActive {
		return ErrNotActive
	}
	if !svc.limiter.Admit(connID) {
		svc.logger.Warn().
			Str("connID", connID).
			Str("username", sess.username).
			Msg("rate limit exceeded, dropping connection")
		svc.disconnect(connID)
		return ErrRateLimited
	}

	switch evt.Type {
	case model.EventJoinRoom:
		return svc.joinRoom(sess, evt)
	case model.EventSendMessage:
		return svc.sendMessage(sess, evt)
	case model.EventSendPrivateMessage:
		return svc.sendPrivateMessage(sess, evt)
	case model.EventRequestPrivateHistory:
		return svc.requestPrivateHistory(sess, evt)
	case model.EventTyping:
		return svc.typing(sess, evt)
	default:
		return ErrUnknownEvent
	}
}

// Disconnect moves connID to Disconnected and releases everything held on
// its behalf. It is safe to call any number of times from any state.
func (svc *Service) Disconnect(connID string) {
	svc.mx.Lock()
	defer svc.mx.Unlock()
	svc.disconnect(connID)
}

// IsTerminal reports whether err returned by Connect or Handle
// means the connection must be closed.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrNotActive) ||
		errors.Is(err, ErrAuthentication) ||
		errors.Is(err, ErrDuplicateConn)
}

// stateOf returns the lifecycle state of connID. Unknown connections are Disconnected.
func (svc *Service) stateOf(connID string) State {
	svc.mx.Lock()
	defer svc.mx.Unlock()
	if sess, ok := svc.sessions[connID]; ok {
		return sess.state
	}
	return StateDisconnected
}

// typingUsers returns a snapshot of the room's typing set.
func (svc *Service) typingUsers(room string) []string {
	return svc.presence.Users(room)
}

// Close cancels pending typing timers.
func (svc *Service) Close() {
	svc.presence.Stop()
}

func (svc *Service) disconnect(connID string) {
	sess, ok := svc.sessions[connID]
	if ok {
		if sess.state == StateDisconnected {
			return
		}
		sess.state = StateDisconnected
		delete(svc.sessions, connID)
	}

	for room, members := range svc.rooms.Leave(connID) {
		svc.sw.Broadcast(memberConnections(members), model.Announcement{
			Type:    model.AnnouncementRoomUsers,
			Payload: members,
		})
		svc.logger.Debug().
			Str("connID", connID).
			Str("room", room).
			Msg("left room")
	}

	if username, bound := svc.identities.UnbindByConnection(connID); bound {
		for _, room := range svc.presence.RoomsOf(username) {
			if users, cleared := svc.presence.ClearUser(room, username); cleared {
				svc.broadcastTyping(room, users)
			}
		}
	}

	svc.sw.Disconnect(connID)
	svc.limiter.Forget(connID)

	if ok {
		svc.logger.Debug().
			Str("connID", connID).
			Str("username", sess.username).
			Dur("lifetime", svc.now().Sub(sess.createdAt)).
			Msg("session ended")
	}
}

func (svc *Service) expireTyping(room, username string, token uint64) {
	svc.mx.Lock()
	defer svc.mx.Unlock()

	if users, ok := svc.presence.Expire(room, username, token); ok {
		svc.broadcastTyping(room, users)
	}
}

func (svc *Service) broadcastTyping(room string, users []string) {
	svc.sw.Broadcast(svc.rooms.Connections(room), model.Announcement{
		Type:    model.AnnouncementTypingUsers,
		Payload: users,
	})
}

func memberConnections(members []model.Member) []string {
	return lo.Uniq(lo.Map(members, func(m model.Member, _ int) string {
		return m.ConnectionID
	}))
}
