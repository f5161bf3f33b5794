// Package identity owns relay's user accounts: registration, credential
// lookup for login, and per-user chat preferences.
//
// Passwords are hashed through a password.Hasher; this package never sees
// refresh tokens or sessions.
package identity
