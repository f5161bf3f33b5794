package identity

import (
	"context"
	"time"
)

// User is relay's canonical principal.
type User struct {
	ID        string
	Email     string
	Username  *string
	ChatTheme *string
	DarkMode  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Credentials pairs a user with its stored password hash.
type Credentials struct {
	User         User
	PasswordHash string
}

// CreateUserInput is a normalized, validated registration request
// with the password already hashed.
type CreateUserInput struct {
	ID           string
	Email        string
	EmailNorm    string
	Username     *string
	UsernameNorm *string
	PasswordHash string
	Now          time.Time
}

// PreferencesPatch updates only the non-nil fields.
type PreferencesPatch struct {
	ChatTheme *string
	DarkMode  *bool
}

// ProfileChange is a validated, normalized profile patch. Nil fields keep
// their stored value; a non-nil Username with a nil UsernameNorm clears it.
type ProfileChange struct {
	Email        *string
	EmailNorm    *string
	Username     *string
	UsernameNorm *string
	Preferences  PreferencesPatch
}

// Store is the identity persistence boundary.
//
// CreateUser returns ConflictError when the email or username is taken.
// Lookups return an error wrapping ErrNotFound for missing rows.
type Store interface {
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)
	GetUserByID(ctx context.Context, userID string) (User, error)
	GetCredentialsByEmail(ctx context.Context, emailNorm string) (Credentials, error)
	UpdatePreferences(ctx context.Context, userID string, patch PreferencesPatch, now time.Time) (User, error)

	// UpdateProfile returns ConflictError when the new email or username is taken.
	UpdateProfile(ctx context.Context, userID string, ch ProfileChange, now time.Time) (User, error)

	// DeleteUser removes the user, its credentials and everything owned by it
	// that the backend cascades.
	DeleteUser(ctx context.Context, userID string) error
}
