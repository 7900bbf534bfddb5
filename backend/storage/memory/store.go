package memory

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/adwski/chatroom-server/backend/model"
	"github.com/adwski/chatroom-server/backend/sanitize"
	"github.com/samber/lo"
)

const (
	DefaultHistoryLimit = 1000
)

var (
	ErrIncorrectPassword = errors.New("incorrect room password")
	ErrEmptyMessage      = errors.New("message is empty after sanitizing")
)

type room struct {
	password string
	members  []model.Member
	messages []model.Message
}

// MemStore keeps rooms: their membership, password and public history.
type MemStore struct {
	mx       *sync.Mutex
	db       map[string]*room
	seq      *model.Sequence
	sanitize func(string) string
	now      func() time.Time
	limit    int
}

type StoreConfig struct {
	// HistoryLimit is the number of most recent messages kept per room, 0 means unbounded.
	HistoryLimit int
	Sequence     *model.Sequence
	Sanitize     func(string) string
	Now          func() time.Time
}

func NewMemStore(cfg StoreConfig) *MemStore {
	ms := &MemStore{
		mx:       &sync.Mutex{},
		db:       make(map[string]*room),
		seq:      cfg.Sequence,
		sanitize: cfg.Sanitize,
		now:      cfg.Now,
		limit:    cfg.HistoryLimit,
	}
	if ms.seq == nil {
		ms.seq = &model.Sequence{}
	}
	if ms.sanitize == nil {
		ms.sanitize = sanitize.Text
	}
	if ms.now == nil {
		ms.now = time.Now
	}
	return ms
}

// Join adds username to roomID on behalf of connID, creating the room if needed.
// The creator's password, if any, protects the room from then on.
// An existing entry for the same username is replaced.
// Snapshots of the resulting member list and of the history are returned.
func (ms *MemStore) Join(roomID, username, password, connID string) ([]model.Member, []model.Message, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	r, ok := ms.db[roomID]
	if !ok {
		r = &room{password: password}
		ms.db[roomID] = r
	} else if r.password != "" && r.password != password {
		return nil, nil, ErrIncorrectPassword
	}

	r.members = lo.Reject(r.members, func(m model.Member, _ int) bool {
		return m.Username == username
	})
	r.members = append(r.members, model.Member{
		Username:     username,
		ConnectionID: connID,
	})
	return cloneMembers(r.members), cloneMessages(r.messages), nil
}

// PostMessage sanitizes text and appends it to the room history.
// ErrEmptyMessage is returned if nothing is left after sanitizing.
func (ms *MemStore) PostMessage(roomID, author, text string) (model.Message, error) {
	text = ms.sanitize(text)
	if text == "" {
		return model.Message{}, ErrEmptyMessage
	}

	ms.mx.Lock()
	defer ms.mx.Unlock()

	r, ok := ms.db[roomID]
	if !ok {
		r = &room{}
		ms.db[roomID] = r
	}
	now := ms.now()
	msg := model.Message{
		ID:       ms.seq.Next(now),
		Text:     text,
		Username: author,
		Room:     roomID,
		Time:     now,
		SeenBy:   []string{author},
	}
	r.messages = appendBounded(r.messages, msg, ms.limit)
	return msg, nil
}

// Leave removes connID from every room it is a member of.
// Updated member lists of affected rooms are returned.
func (ms *MemStore) Leave(connID string) map[string][]model.Member {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	affected := make(map[string][]model.Member)
	for roomID, r := range ms.db {
		kept := lo.Reject(r.members, func(m model.Member, _ int) bool {
			return m.ConnectionID == connID
		})
		if len(kept) != len(r.members) {
			r.members = kept
			affected[roomID] = cloneMembers(kept)
		}
	}
	return affected
}

// SweepEmpty deletes every room without members along with its
// password and history. Names of deleted rooms are returned sorted.
func (ms *MemStore) SweepEmpty() []string {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	var swept []string
	for roomID, r := range ms.db {
		if len(r.members) == 0 {
			delete(ms.db, roomID)
			swept = append(swept, roomID)
		}
	}
	sort.Strings(swept)
	return swept
}

func (ms *MemStore) members(roomID string) []model.Member {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	r, ok := ms.db[roomID]
	if !ok {
		return nil
	}
	return cloneMembers(r.members)
}

// Connections returns distinct connection ids of room members.
func (ms *MemStore) Connections(roomID string) []string {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	r, ok := ms.db[roomID]
	if !ok {
		return nil
	}
	return lo.Uniq(lo.Map(r.members, func(m model.Member, _ int) string {
		return m.ConnectionID
	}))
}

func (ms *MemStore) history(roomID string) []model.Message {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	r, ok := ms.db[roomID]
	if !ok {
		return nil
	}
	return cloneMessages(r.messages)
}

// hasRoom reports whether roomID currently exists.
func (ms *MemStore) hasRoom(roomID string) bool {
	ms.mx.Lock()
	defer ms.mx.Unlock()
	_, ok := ms.db[roomID]
	return ok
}

func cloneMembers(members []model.Member) []model.Member {
	out := make([]model.Member, len(members))
	copy(out, members)
	return out
}

func cloneMessages(messages []model.Message) []model.Message {
	if len(messages) == 0 {
		return nil
	}
	out := make([]model.Message, len(messages))
	copy(out, messages)
	return out
}

func appendBounded[T any](s []T, v T, limit int) []T {
	s = append(s, v)
	if limit > 0 && len(s) > limit {
		// reallocate so trimmed entries can be collected
		s = append([]T(nil), s[len(s)-limit:]...)
	}
	return s
}
