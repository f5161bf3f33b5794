package identity

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the in-process Store used when no database is configured.
type MemoryStore struct {
	mu         sync.RWMutex
	users      map[string]Credentials
	byEmail    map[string]string
	byUsername map[string]string
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:      make(map[string]Credentials),
		byEmail:    make(map[string]string),
		byUsername: make(map[string]string),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byEmail[in.EmailNorm]; ok {
		return User{}, ConflictError{Op: op, Field: "email"}
	}
	if in.UsernameNorm != nil {
		if _, ok := s.byUsername[*in.UsernameNorm]; ok {
			return User{}, ConflictError{Op: op, Field: "username"}
		}
	}

	u := User{
		ID:        in.ID,
		Email:     in.Email,
		Username:  in.Username,
		CreatedAt: in.Now,
		UpdatedAt: in.Now,
	}
	s.users[u.ID] = Credentials{User: u, PasswordHash: in.PasswordHash}
	s.byEmail[in.EmailNorm] = u.ID
	if in.UsernameNorm != nil {
		s.byUsername[*in.UsernameNorm] = u.ID
	}
	return u, nil
}

func (s *MemoryStore) GetUserByID(_ context.Context, userID string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.users[userID]
	if !ok {
		return User{}, notFound("identity.GetUserByID")
	}
	return c.User, nil
}

func (s *MemoryStore) GetCredentialsByEmail(_ context.Context, emailNorm string) (Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[emailNorm]
	if !ok {
		return Credentials{}, notFound("identity.GetCredentialsByEmail")
	}
	return s.users[id], nil
}

func (s *MemoryStore) UpdateProfile(_ context.Context, userID string, ch ProfileChange, now time.Time) (User, error) {
	const op = "identity.UpdateProfile"

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.users[userID]
	if !ok {
		return User{}, notFound(op)
	}
	if ch.EmailNorm != nil {
		if id, taken := s.byEmail[*ch.EmailNorm]; taken && id != userID {
			return User{}, ConflictError{Op: op, Field: "email"}
		}
	}
	if ch.UsernameNorm != nil {
		if id, taken := s.byUsername[*ch.UsernameNorm]; taken && id != userID {
			return User{}, ConflictError{Op: op, Field: "username"}
		}
	}

	if ch.Email != nil {
		delete(s.byEmail, NormalizeEmail(c.User.Email))
		c.User.Email = *ch.Email
		s.byEmail[*ch.EmailNorm] = userID
	}
	if ch.Username != nil {
		if c.User.Username != nil {
			delete(s.byUsername, NormalizeUsername(*c.User.Username))
		}
		c.User.Username = nil
		if ch.UsernameNorm != nil {
			u := *ch.Username
			c.User.Username = &u
			s.byUsername[*ch.UsernameNorm] = userID
		}
	}
	applyPreferences(&c.User, ch.Preferences)
	c.User.UpdatedAt = now
	s.users[userID] = c
	return c.User, nil
}

func (s *MemoryStore) DeleteUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.users[userID]
	if !ok {
		return notFound("identity.DeleteUser")
	}
	delete(s.byEmail, NormalizeEmail(c.User.Email))
	if c.User.Username != nil {
		delete(s.byUsername, NormalizeUsername(*c.User.Username))
	}
	delete(s.users, userID)
	return nil
}

func applyPreferences(u *User, patch PreferencesPatch) {
	if patch.ChatTheme != nil {
		theme := *patch.ChatTheme
		u.ChatTheme = &theme
	}
	if patch.DarkMode != nil {
		u.DarkMode = *patch.DarkMode
	}
}

func (s *MemoryStore) UpdatePreferences(_ context.Context, userID string, patch PreferencesPatch, now time.Time) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.users[userID]
	if !ok {
		return User{}, notFound("identity.UpdatePreferences")
	}
	applyPreferences(&c.User, patch)
	c.User.UpdatedAt = now
	s.users[userID] = c
	return c.User, nil
}
