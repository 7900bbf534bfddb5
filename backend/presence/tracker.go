// Package presence tracks which users are typing in which rooms.
package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
)

const DefaultTypingTTL = 3 * time.Second

// ExpireFunc is called from a timer goroutine when a typing entry
// reaches its TTL. It is expected to call Tracker.Expire with the same
// arguments, possibly after acquiring locks of its own.
type ExpireFunc func(room, username string, token uint64)

type Config struct {
	TTL      time.Duration
	OnExpire ExpireFunc
}

type entry struct {
	timer *time.Timer
	token uint64
}

// Tracker keeps typing sets per room. Every entry has its own expiry timer;
// marking a user again restarts it.
type Tracker struct {
	mx       *sync.Mutex
	rooms    map[string]map[string]*entry
	onExpire ExpireFunc
	ttl      time.Duration
	token    uint64
}

func NewTracker(cfg Config) *Tracker {
	t := &Tracker{
		mx:       &sync.Mutex{},
		rooms:    make(map[string]map[string]*entry),
		ttl:      cfg.TTL,
		onExpire: cfg.OnExpire,
	}
	if t.ttl <= 0 {
		t.ttl = DefaultTypingTTL
	}
	if t.onExpire == nil {
		t.onExpire = func(room, username string, token uint64) {
			t.Expire(room, username, token)
		}
	}
	return t
}

// MarkTyping adds username to the room's typing set, cancelling a pending
// removal if there is one, and returns the updated set.
func (t *Tracker) MarkTyping(room, username string) []string {
	t.mx.Lock()
	defer t.mx.Unlock()

	users, ok := t.rooms[room]
	if !ok {
		users = make(map[string]*entry)
		t.rooms[room] = users
	}
	if e, ok := users[username]; ok {
		e.timer.Stop()
	}

	t.token++
	token := t.token
	users[username] = &entry{
		token: token,
		timer: time.AfterFunc(t.ttl, func() {
			t.onExpire(room, username, token)
		}),
	}
	return sortedUsers(users)
}

// Expire removes username from room only if the entry was not refreshed
// since token was issued. ok is false if nothing changed.
func (t *Tracker) Expire(room, username string, token uint64) ([]string, bool) {
	t.mx.Lock()
	defer t.mx.Unlock()

	users := t.rooms[room]
	e, ok := users[username]
	if !ok || e.token != token {
		return nil, false
	}
	t.remove(room, username)
	return sortedUsers(t.rooms[room]), true
}

// ClearUser removes username from room immediately and cancels its timer.
func (t *Tracker) ClearUser(room, username string) ([]string, bool) {
	t.mx.Lock()
	defer t.mx.Unlock()

	e, ok := t.rooms[room][username]
	if !ok {
		return nil, false
	}
	e.timer.Stop()
	t.remove(room, username)
	return sortedUsers(t.rooms[room]), true
}

// RoomsOf returns rooms where username is currently typing, sorted.
func (t *Tracker) RoomsOf(username string) []string {
	t.mx.Lock()
	defer t.mx.Unlock()

	var rooms []string
	for room, users := range t.rooms {
		if _, ok := users[username]; ok {
			rooms = append(rooms, room)
		}
	}
	sort.Strings(rooms)
	return rooms
}

func (t *Tracker) Users(room string) []string {
	t.mx.Lock()
	defer t.mx.Unlock()
	return sortedUsers(t.rooms[room])
}

// ClearRoom drops the whole typing set of room.
func (t *Tracker) ClearRoom(room string) {
	t.mx.Lock()
	defer t.mx.Unlock()

	for _, e := range t.rooms[room] {
		e.timer.Stop()
	}
	delete(t.rooms, room)
}

// Stop cancels every pending timer.
func (t *Tracker) Stop() {
	t.mx.Lock()
	defer t.mx.Unlock()

	for room, users := range t.rooms {
		for _, e := range users {
			e.timer.Stop()
		}
		delete(t.rooms, room)
	}
}

func (t *Tracker) remove(room, username string) {
	users := t.rooms[room]
	delete(users, username)
	if len(users) == 0 {
		delete(t.rooms, room)
	}
}

func sortedUsers(users map[string]*entry) []string {
	keys := lo.Keys(users)
	sort.Strings(keys)
	return keys
}
