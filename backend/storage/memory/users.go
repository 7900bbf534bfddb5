package memory

import (
	"errors"
	"sync"
)

var (
	ErrUserExists   = errors.New("username already exists")
	ErrUserNotFound = errors.New("user is not found")
)

// UserStore keeps registered users and their password hashes.
type UserStore struct {
	mx     *sync.RWMutex
	hashes map[string]string
}

func NewUserStore() *UserStore {
	return &UserStore{
		mx:     &sync.RWMutex{},
		hashes: make(map[string]string),
	}
}

func (us *UserStore) Create(username, passwordHash string) error {
	us.mx.Lock()
	defer us.mx.Unlock()

	if _, ok := us.hashes[username]; ok {
		return ErrUserExists
	}
	us.hashes[username] = passwordHash
	return nil
}

func (us *UserStore) PasswordHash(username string) (string, error) {
	us.mx.RLock()
	defer us.mx.RUnlock()

	hash, ok := us.hashes[username]
	if !ok {
		return "", ErrUserNotFound
	}
	return hash, nil
}
