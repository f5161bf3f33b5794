package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"relay/cmd/identity/ids"
	"relay/cmd/security/password"
	"relay/cmd/security/token"
)

// maxPresentedTokenLen bounds untrusted refresh-token input.
const maxPresentedTokenLen = 4096

// cascadeTimeout bounds a reuse revocation that outlives its request.
const cascadeTimeout = 5 * time.Second

const dummyPassword = "relay.dummy-credential-check"

// Principal is the authenticated identity.
type Principal struct {
	UserID string
	Email  string
}

// CredentialLookup resolves an email to a principal and its encoded password hash.
// It returns ErrPrincipalNotFound when no account matches.
type CredentialLookup interface {
	LookupCredentials(ctx context.Context, email string) (Principal, string, error)
}

// Observer receives session lifecycle signals for metrics.
type Observer interface {
	RefreshResult(result string)
	ReuseDetected()
}

type nopObserver struct{}

func (nopObserver) RefreshResult(string) {}
func (nopObserver) ReuseDetected()       {}

// Deps are the collaborators of a Service.
type Deps struct {
	Store       Store
	Codec       TokenCodec
	Credentials CredentialLookup
	Passwords   password.Hasher

	// Tokens hashes refresh tokens; the zero value is plain SHA-256.
	Tokens token.Hasher

	Log      *slog.Logger
	Observer Observer
}

// Service is the session authority: it is the only writer of refresh records.
type Service struct {
	cfg    Config
	store  Store
	codec  TokenCodec
	creds  CredentialLookup
	passwd password.Hasher
	tokens token.Hasher
	log    *slog.Logger
	obs    Observer

	dummyOnce sync.Once
	dummyHash string
}

// Issued is the result of a login or a rotation.
type Issued struct {
	UserID       string
	SessionID    string
	AccessToken  string
	AccessExp    time.Time
	RefreshToken string
	RefreshExp   time.Time
}

// NewService constructs a Service.
func NewService(cfg Config, d Deps) (*Service, error) {
	if d.Store == nil || d.Codec == nil {
		return nil, fmt.Errorf("session: store and codec are required: %w", ErrConfig)
	}
	if cfg.RefreshTokenBytes < 32 {
		return nil, ErrConfig
	}
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	var obs Observer = nopObserver{}
	if d.Observer != nil {
		obs = d.Observer
	}
	return &Service{
		cfg:    cfg,
		store:  d.Store,
		codec:  d.Codec,
		creds:  d.Credentials,
		passwd: d.Passwords,
		tokens: d.Tokens,
		log:    log,
		obs:    obs,
	}, nil
}

func (s *Service) refreshTTL(dev DeviceContext) time.Duration {
	switch dev.Platform {
	case PlatformWeb:
		return s.cfg.RefreshTTLWeb
	case PlatformIOS, PlatformAndroid, PlatformDesktop:
		if dev.RememberMe {
			return s.cfg.RefreshTTLNative
		}
		return s.cfg.RefreshTTLNativeShort
	default:
		return s.cfg.RefreshTTLWeb
	}
}

// Authenticate checks credentials and starts a new token family.
//
// Every failure mode returns ErrInvalidCredentials. When the account does not
// exist a verify still runs against a fixed hash so both paths cost the same.
func (s *Service) Authenticate(ctx context.Context, now time.Time, email, plain string, dev DeviceContext) (Principal, Issued, error) {
	if s.creds == nil || s.passwd == nil {
		return Principal{}, Issued{}, fmt.Errorf("session: credential lookup not configured: %w", ErrConfig)
	}

	p, encoded, err := s.creds.LookupCredentials(ctx, email)
	switch {
	case errors.Is(err, ErrPrincipalNotFound):
		s.burnVerify(plain)
		return Principal{}, Issued{}, ErrInvalidCredentials
	case err != nil:
		return Principal{}, Issued{}, err
	}

	ok, err := s.passwd.Verify(plain, encoded)
	if err != nil || !ok {
		return Principal{}, Issued{}, ErrInvalidCredentials
	}

	issued, err := s.startFamily(ctx, now, p.UserID, dev)
	if err != nil {
		return Principal{}, Issued{}, err
	}
	return p, issued, nil
}

func (s *Service) burnVerify(plain string) {
	s.dummyOnce.Do(func() {
		h, err := s.passwd.Hash(dummyPassword)
		if err == nil {
			s.dummyHash = h
		}
	})
	if s.dummyHash != "" {
		_, _ = s.passwd.Verify(plain, s.dummyHash)
	}
}

func (s *Service) startFamily(ctx context.Context, now time.Time, userID string, dev DeviceContext) (Issued, error) {
	rec, plain, err := s.newRecord(now, userID, "", dev)
	if err != nil {
		return Issued{}, err
	}
	if err := s.store.Insert(ctx, rec); err != nil {
		return Issued{}, err
	}

	access, accessExp, err := s.codec.Issue(userID, rec.FamilyID, now)
	if err != nil {
		return Issued{}, err
	}

	return Issued{
		UserID:       userID,
		SessionID:    rec.FamilyID,
		AccessToken:  access,
		AccessExp:    accessExp,
		RefreshToken: plain,
		RefreshExp:   rec.ExpiresAt,
	}, nil
}

// newRecord mints a refresh token. An empty familyID starts a new family rooted at the record.
func (s *Service) newRecord(now time.Time, userID, familyID string, dev DeviceContext) (Record, string, error) {
	plain, hash, err := newOpaqueRefreshToken(s.cfg.RefreshTokenBytes, s.tokens)
	if err != nil {
		return Record{}, "", err
	}
	id, err := ids.NewULID(now)
	if err != nil {
		return Record{}, "", err
	}
	if familyID == "" {
		familyID = id
	}
	return Record{
		ID:        id,
		UserID:    userID,
		FamilyID:  familyID,
		TokenHash: hash,
		Status:    StatusActive,
		CreatedAt: now,
		ExpiresAt: now.Add(s.refreshTTL(dev)),
		Device:    dev,
	}, plain, nil
}

func (s *Service) hashPresented(presented string) (string, bool) {
	presented = strings.TrimSpace(presented)
	if presented == "" || len(presented) > maxPresentedTokenLen {
		return "", false
	}
	return s.tokens.Hash(presented), true
}

// Rotate exchanges a presented refresh token for a new pair.
//
// Within one transaction the presented record is locked, checked and, when
// active, replaced by a successor in the same family. Presenting a rotated
// record revokes the lineage; that revocation is committed before
// ErrTokenReuseDetected is returned.
func (s *Service) Rotate(ctx context.Context, now time.Time, presented string, dev DeviceContext) (Issued, error) {
	hash, ok := s.hashPresented(presented)
	if !ok {
		s.obs.RefreshResult("invalid")
		return Issued{}, ErrTokenInvalid
	}

	var (
		out      Issued
		reuse    bool
		old      Record
		cascaded int64
	)

	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		rec, err := tx.GetByHashForUpdate(ctx, hash)
		if errors.Is(err, ErrRecordNotFound) {
			return ErrTokenInvalid
		}
		if err != nil {
			return err
		}
		old = rec

		if rec.reuseSignal() {
			reuse = true
			cascaded, err = s.revokeLineage(ctx, tx, now, rec)
			return err
		}

		if rec.Status == StatusRevoked {
			return ErrTokenInvalid
		}
		if !rec.ExpiresAt.After(now) {
			return ErrTokenExpired
		}

		// Keep the device of the original login when the client does not say otherwise.
		if dev.Platform == "" {
			dev.Platform = rec.Device.Platform
			dev.RememberMe = rec.Device.RememberMe
		}

		next, plain, err := s.newRecord(now, rec.UserID, rec.FamilyID, dev)
		if err != nil {
			return err
		}
		if err := tx.Insert(ctx, next); err != nil {
			return err
		}
		if err := tx.MarkRotated(ctx, now, rec.ID, next.TokenHash); err != nil {
			return err
		}

		access, accessExp, err := s.codec.Issue(rec.UserID, rec.FamilyID, now)
		if err != nil {
			return err
		}

		out = Issued{
			UserID:       rec.UserID,
			SessionID:    rec.FamilyID,
			AccessToken:  access,
			AccessExp:    accessExp,
			RefreshToken: plain,
			RefreshExp:   next.ExpiresAt,
		}
		return nil
	})

	// A caller that went away mid-transaction must not roll back the cascade.
	if reuse && err != nil && ctx.Err() != nil {
		cascaded, err = s.detachedCascade(ctx, now, old)
	}

	switch {
	case err == nil && reuse:
		s.obs.ReuseDetected()
		s.obs.RefreshResult("reuse_detected")
		s.log.Warn("auth.refresh.reuse_detected",
			"user_id", old.UserID,
			"family_id", old.FamilyID,
			"record_id", old.ID,
			"scope", string(s.cfg.ReuseScope),
			"revoked", cascaded,
		)
		return Issued{}, ErrTokenReuseDetected
	case errors.Is(err, ErrTokenInvalid):
		s.obs.RefreshResult("invalid")
		return Issued{}, err
	case errors.Is(err, ErrTokenExpired):
		s.obs.RefreshResult("expired")
		return Issued{}, err
	case err != nil:
		s.obs.RefreshResult("error")
		return Issued{}, fmt.Errorf("session: rotate: %w", err)
	}

	s.obs.RefreshResult("rotated")
	return out, nil
}

func (s *Service) revokeLineage(ctx context.Context, tx Tx, now time.Time, rec Record) (int64, error) {
	if s.cfg.ReuseScope == ScopeUser {
		return tx.RevokeUser(ctx, now, rec.UserID, ReasonReuseDetected)
	}
	return tx.RevokeFamily(ctx, now, rec.FamilyID, ReasonReuseDetected)
}

// detachedCascade commits the reuse revocation for rec on a context that
// survives the caller's cancellation.
func (s *Service) detachedCascade(ctx context.Context, now time.Time, rec Record) (int64, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cascadeTimeout)
	defer cancel()

	var n int64
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		n, err = s.revokeLineage(ctx, tx, now, rec)
		return err
	})
	return n, err
}

// Revoke closes the record behind a presented refresh token (logout).
// Unknown tokens and records that are already closed are ignored.
func (s *Service) Revoke(ctx context.Context, now time.Time, presented string) error {
	hash, ok := s.hashPresented(presented)
	if !ok {
		return nil
	}
	return s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		rec, err := tx.GetByHashForUpdate(ctx, hash)
		if errors.Is(err, ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if rec.Status != StatusActive {
			return nil
		}
		return tx.Revoke(ctx, now, rec.ID, ReasonLogout)
	})
}

// RevokeAll closes every active record of a user (logout everywhere).
func (s *Service) RevokeAll(ctx context.Context, now time.Time, userID string) (int64, error) {
	var n int64
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		n, err = tx.RevokeUser(ctx, now, userID, ReasonLogoutAll)
		return err
	})
	return n, err
}

// VerifyAccess checks an access token's signature and expiry only.
func (s *Service) VerifyAccess(accessToken string, now time.Time) (AccessClaims, error) {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return AccessClaims{}, ErrUnauthorized
	}
	claims, err := s.codec.Verify(accessToken, now)
	if err != nil {
		return AccessClaims{}, ErrUnauthorized
	}
	return claims, nil
}

// AccessTTL reports the configured access-token lifetime.
func (s *Service) AccessTTL() time.Duration { return s.cfg.AccessTokenTTL }
