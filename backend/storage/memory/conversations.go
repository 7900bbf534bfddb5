package memory

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/adwski/chatroom-server/backend/model"
	"github.com/adwski/chatroom-server/backend/sanitize"
)

// Usernames containing NUL are refused at login, so ("a_b", "c") and
// ("a", "b_c") never share an id.
const conversationSeparator = "\x00"

// ConversationStore keeps private 1:1 histories. Conversations are never
// removed by the room sweep.
type ConversationStore struct {
	mx       *sync.RWMutex
	db       map[string][]model.PrivateMessage
	seq      *model.Sequence
	sanitize func(string) string
	now      func() time.Time
	limit    int
}

func NewConversationStore(cfg StoreConfig) *ConversationStore {
	cs := &ConversationStore{
		mx:       &sync.RWMutex{},
		db:       make(map[string][]model.PrivateMessage),
		seq:      cfg.Sequence,
		sanitize: cfg.Sanitize,
		now:      cfg.Now,
		limit:    cfg.HistoryLimit,
	}
	if cs.seq == nil {
		cs.seq = &model.Sequence{}
	}
	if cs.sanitize == nil {
		cs.sanitize = sanitize.Text
	}
	if cs.now == nil {
		cs.now = time.Now
	}
	return cs
}

// ConversationID is the same for (a, b) and (b, a).
func ConversationID(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, conversationSeparator)
}

// Send stores a private message from one user to another regardless of
// whether the recipient is online.
func (cs *ConversationStore) Send(from, to, text string) (model.PrivateMessage, error) {
	text = cs.sanitize(text)
	if text == "" {
		return model.PrivateMessage{}, ErrEmptyMessage
	}

	cs.mx.Lock()
	defer cs.mx.Unlock()

	now := cs.now()
	msg := model.PrivateMessage{
		ID:   cs.seq.Next(now),
		Text: text,
		From: from,
		To:   to,
		Time: now,
	}
	id := ConversationID(from, to)
	cs.db[id] = appendBounded(cs.db[id], msg, cs.limit)
	return msg, nil
}

// History returns a copy of the conversation between a and b, oldest first.
func (cs *ConversationStore) History(a, b string) []model.PrivateMessage {
	cs.mx.RLock()
	defer cs.mx.RUnlock()

	msgs := cs.db[ConversationID(a, b)]
	out := make([]model.PrivateMessage, len(msgs))
	copy(out, msgs)
	return out
}

func (cs *ConversationStore) size() int {
	cs.mx.RLock()
	defer cs.mx.RUnlock()
	return len(cs.db)
}
