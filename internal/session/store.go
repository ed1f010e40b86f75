// Package session holds the admin's bearer token and profile for one console workspace.
//
// The Store is the only reader and writer of the persisted keys. Everything that needs to know whether
// privileged calls are allowed asks the Store.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

const (
	TokenKey = "adminToken"
	UserKey  = "adminUser"
)

var ErrNoToken = errors.New("session token is required")

type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Snapshot is an immutable view of an established session.
type Snapshot struct {
	Token string
	User  User
}

type Status struct {
	Authenticated bool
	User          User
}

type Store struct {
	kv KV

	// writes are serialized; reads go through the atomic pointer.
	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
}

func NewStore(kv KV) *Store {
	return &Store{kv: kv}
}

// Initialize loads the persisted session, if any.
func (s *Store) Initialize() (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok, err := s.kv.Get(TokenKey)
	if err != nil {
		return Status{}, fmt.Errorf("read session token: %w", err)
	}
	if !ok || strings.TrimSpace(token) == "" {
		s.current.Store(nil)
		return Status{}, nil
	}

	var user User
	if raw, ok, err := s.kv.Get(UserKey); err != nil {
		return Status{}, fmt.Errorf("read session user: %w", err)
	} else if ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &user); err != nil {
			// a corrupt profile cannot be trusted; treat the whole session as gone
			_ = s.kv.Delete(TokenKey, UserKey)
			s.current.Store(nil)
			return Status{}, nil
		}
	}

	s.current.Store(&Snapshot{Token: token, User: user})
	return Status{Authenticated: true, User: user}, nil
}

func (s *Store) Establish(token string, user User) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrNoToken
	}
	rawUser, err := json.Marshal(user)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kv.Set(TokenKey, token); err != nil {
		return fmt.Errorf("persist session token: %w", err)
	}
	if err := s.kv.Set(UserKey, string(rawUser)); err != nil {
		return fmt.Errorf("persist session user: %w", err)
	}
	s.current.Store(&Snapshot{Token: token, User: user})
	return nil
}

// Teardown clears everything the store persisted. Calling it on an empty store is fine.
func (s *Store) Teardown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current.Store(nil)
	if err := s.kv.Delete(TokenKey, UserKey); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// Token returns the current bearer token or "".
func (s *Store) Token() string {
	if snap := s.current.Load(); snap != nil {
		return snap.Token
	}
	return ""
}

func (s *Store) Status() Status {
	snap := s.current.Load()
	if snap == nil {
		return Status{}
	}
	return Status{Authenticated: true, User: snap.User}
}
