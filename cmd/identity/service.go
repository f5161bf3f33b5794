package identity

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"relay/cmd/identity/ids"
	"relay/cmd/security/password"
)

// Service validates and normalizes account operations before they reach the Store.
type Service struct {
	store  Store
	hasher password.Hasher
}

// NewService constructs an identity Service.
func NewService(store Store, hasher password.Hasher) *Service {
	return &Service{store: store, hasher: hasher}
}

// RegisterInput is a raw registration request.
type RegisterInput struct {
	Email    string
	Username string
	Password string
}

// Register creates a user. The email must be unique; the username is optional.
func (s *Service) Register(ctx context.Context, now time.Time, in RegisterInput) (User, error) {
	const op = "identity.Register"

	email := strings.TrimSpace(in.Email)
	if !validEmail(email) {
		return User{}, invalid(op, "invalid email")
	}
	emailNorm := NormalizeEmail(email)

	var username, usernameNorm *string
	if u := strings.TrimSpace(in.Username); u != "" {
		if !validUsername(u) {
			return User{}, invalid(op, "invalid username")
		}
		n := NormalizeUsername(u)
		username, usernameNorm = &u, &n
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		switch {
		case errors.Is(err, password.ErrPasswordTooShort),
			errors.Is(err, password.ErrPasswordTooLong),
			errors.Is(err, password.ErrWeakPassword):
			return User{}, invalid(op, err.Error())
		default:
			return User{}, err
		}
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return User{}, err
	}

	return s.store.CreateUser(ctx, CreateUserInput{
		ID:           id,
		Email:        email,
		EmailNorm:    emailNorm,
		Username:     username,
		UsernameNorm: usernameNorm,
		PasswordHash: hash,
		Now:          now,
	})
}

// LookupCredentials returns the credentials for an email address.
func (s *Service) LookupCredentials(ctx context.Context, email string) (Credentials, error) {
	norm := NormalizeEmail(email)
	if norm == "" {
		return Credentials{}, notFound("identity.LookupCredentials")
	}
	return s.store.GetCredentialsByEmail(ctx, norm)
}

// Get loads a user by ID.
func (s *Service) Get(ctx context.Context, userID string) (User, error) {
	if strings.TrimSpace(userID) == "" {
		return User{}, notFound("identity.Get")
	}
	return s.store.GetUserByID(ctx, userID)
}

// ProfilePatch is a raw profile update. Nil fields are left unchanged; an
// empty Username removes it.
type ProfilePatch struct {
	Email     *string
	Username  *string
	ChatTheme *string
	DarkMode  *bool
}

// UpdateProfile validates and applies a profile patch in one write.
func (s *Service) UpdateProfile(ctx context.Context, now time.Time, userID string, patch ProfilePatch) (User, error) {
	const op = "identity.UpdateProfile"

	var ch ProfileChange
	if patch.Email != nil {
		email := strings.TrimSpace(*patch.Email)
		if !validEmail(email) {
			return User{}, invalid(op, "invalid email")
		}
		norm := NormalizeEmail(email)
		ch.Email, ch.EmailNorm = &email, &norm
	}
	if patch.Username != nil {
		u := strings.TrimSpace(*patch.Username)
		ch.Username = &u
		if u != "" {
			if !validUsername(u) {
				return User{}, invalid(op, "invalid username")
			}
			n := NormalizeUsername(u)
			ch.UsernameNorm = &n
		}
	}
	if patch.ChatTheme != nil {
		theme := strings.TrimSpace(*patch.ChatTheme)
		if utf8.RuneCountInString(theme) > maxChatThemeLen {
			return User{}, invalid(op, "chat_theme too long")
		}
		ch.Preferences.ChatTheme = &theme
	}
	ch.Preferences.DarkMode = patch.DarkMode
	return s.store.UpdateProfile(ctx, userID, ch, now)
}

// Delete removes an account.
func (s *Service) Delete(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return notFound("identity.Delete")
	}
	return s.store.DeleteUser(ctx, userID)
}

// UpdatePreferences validates and applies a preferences patch.
func (s *Service) UpdatePreferences(ctx context.Context, now time.Time, userID string, patch PreferencesPatch) (User, error) {
	const op = "identity.UpdatePreferences"

	if patch.ChatTheme != nil {
		theme := strings.TrimSpace(*patch.ChatTheme)
		if utf8.RuneCountInString(theme) > maxChatThemeLen {
			return User{}, invalid(op, "chat_theme too long")
		}
		patch.ChatTheme = &theme
	}
	return s.store.UpdatePreferences(ctx, userID, patch, now)
}
