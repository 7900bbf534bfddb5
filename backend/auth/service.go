// Package auth issues and verifies credentials used to open chat sessions.
package auth

import (
	"errors"
	"strings"
)

var (
	ErrInvalidUsername    = errors.New("invalid username")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrTokenGeneration    = errors.New("unable to generate token")
)

type (
	UserStore interface {
		Create(username, passwordHash string) error
		PasswordHash(username string) (string, error)
	}

	Service struct {
		users  UserStore
		jwt    *JWTManager
		hasher *PasswordHasher
	}

	Config struct {
		Users  UserStore
		JWT    *JWTManager
		Hasher *PasswordHasher
	}
)

func NewService(cfg Config) *Service {
	svc := &Service{
		users:  cfg.Users,
		jwt:    cfg.JWT,
		hasher: cfg.Hasher,
	}
	if svc.hasher == nil {
		svc.hasher = NewPasswordHasher(0)
	}
	return svc
}

// Signup registers username and returns a token for it.
func (svc *Service) Signup(username, password string) (string, error) {
	if err := checkUsername(username); err != nil {
		return "", err
	}
	hash, err := svc.hasher.Hash(password)
	if err != nil {
		return "", errors.Join(ErrInvalidCredentials, err)
	}
	if err = svc.users.Create(username, hash); err != nil {
		return "", errors.Join(ErrUsernameTaken, err)
	}
	return svc.issue(username)
}

// Login returns a token for username. Registered users must present
// their password, other usernames are accepted as is.
func (svc *Service) Login(username, password string) (string, error) {
	if err := checkUsername(username); err != nil {
		return "", err
	}
	if hash, err := svc.users.PasswordHash(username); err == nil {
		if !svc.hasher.Verify(password, hash) {
			return "", ErrInvalidCredentials
		}
	}
	return svc.issue(username)
}

// Verify maps a presented token to a username.
func (svc *Service) Verify(token string) (string, error) {
	return svc.jwt.Verify(token)
}

func (svc *Service) issue(username string) (string, error) {
	token, err := svc.jwt.Issue(username)
	if err != nil {
		return "", errors.Join(ErrTokenGeneration, err)
	}
	return token, nil
}

func checkUsername(username string) error {
	if strings.TrimSpace(username) == "" || strings.ContainsRune(username, 0) {
		return ErrInvalidUsername
	}
	return nil
}
