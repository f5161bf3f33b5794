package session

import (
	"net"
	"time"
)

// Platform represents the client platform associated with a session.
type Platform string

const (
	PlatformWeb     Platform = "web"
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformDesktop Platform = "desktop"
	PlatformUnknown Platform = "unknown"
)

// ParsePlatform maps client input to a Platform. Unrecognized values map to PlatformUnknown.
func ParsePlatform(s string) Platform {
	switch p := Platform(s); p {
	case PlatformWeb, PlatformIOS, PlatformAndroid, PlatformDesktop:
		return p
	default:
		return PlatformUnknown
	}
}

// DeviceContext describes the client device that owns a session.
type DeviceContext struct {
	Platform   Platform
	RememberMe bool
	UserAgent  string
	IP         net.IP
}

// Status is the lifecycle state of a refresh record. Rotated and Revoked are terminal.
type Status string

const (
	StatusActive  Status = "active"
	StatusRotated Status = "rotated"
	StatusRevoked Status = "revoked"
)

// RevocationReason records why a record left the active state.
type RevocationReason string

const (
	ReasonRotation      RevocationReason = "rotation"
	ReasonLogout        RevocationReason = "logout"
	ReasonLogoutAll     RevocationReason = "logout_all"
	ReasonReuseDetected RevocationReason = "reuse_detected"
)

// Record mirrors a relay.refresh_tokens row.
type Record struct {
	ID       string
	UserID   string
	FamilyID string

	// TokenHash is the only form of the refresh token that is ever stored.
	TokenHash string

	Status Status
	Reason *RevocationReason

	// ReplacedBy holds the successor's token hash once the record is rotated.
	ReplacedBy *string

	CreatedAt  time.Time
	LastUsedAt *time.Time
	ExpiresAt  time.Time
	RevokedAt  *time.Time

	Device DeviceContext
}

// Revoked reports whether the record can no longer be presented.
func (r Record) Revoked() bool { return r.Status != StatusActive }

// Presentable reports whether the record is active and unexpired at now.
func (r Record) Presentable(now time.Time) bool {
	return r.Status == StatusActive && r.ExpiresAt.After(now)
}

// reuseSignal reports whether presenting this record indicates a replayed token.
func (r Record) reuseSignal() bool {
	if r.Status == StatusRotated {
		return true
	}
	return r.Status == StatusRevoked && r.Reason != nil && *r.Reason == ReasonReuseDetected
}
