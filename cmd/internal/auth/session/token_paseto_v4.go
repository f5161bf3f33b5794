package session

import (
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

type pasetoV4PublicCodec struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration

	secret paseto.V4AsymmetricSecretKey
	public paseto.V4AsymmetricPublicKey
}

// NewPasetoV4PublicCodec builds a TokenCodec based on PASETO v4.public (Ed25519).
func NewPasetoV4PublicCodec(cfg Config) (TokenCodec, error) {
	secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(cfg.PasetoV4SecretKeyHex)
	if err != nil {
		return nil, ErrConfig
	}

	return &pasetoV4PublicCodec{
		issuer:    cfg.Issuer,
		ttl:       cfg.AccessTokenTTL,
		clockSkew: cfg.ClockSkew,
		secret:    secret,
		public:    secret.Public(),
	}, nil
}

// PublicKeyHex exposes the verification key so other services can check tokens.
func (c *pasetoV4PublicCodec) PublicKeyHex() string {
	return c.public.ExportHex()
}

func (c *pasetoV4PublicCodec) Issue(userID, sessionID string, now time.Time) (string, time.Time, error) {
	exp := now.Add(c.ttl)

	tok := paseto.NewToken()
	tok.SetIssuer(c.issuer)
	tok.SetSubject(userID)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)
	_ = tok.Set("sid", sessionID)

	return tok.V4Sign(c.secret, nil), exp, nil
}

func (c *pasetoV4PublicCodec) Verify(token string, now time.Time) (AccessClaims, error) {
	// Validating slightly ahead tolerates an issuer whose clock runs fast;
	// expiry becomes stricter by the same amount.
	p := paseto.NewParserWithoutExpiryCheck()
	p.AddRule(paseto.IssuedBy(c.issuer))
	p.AddRule(paseto.ValidAt(now.Add(c.clockSkew)))

	parsed, err := p.ParseV4Public(c.public, token, nil)
	if err != nil {
		return AccessClaims{}, ErrUnauthorized
	}

	iss, _ := parsed.GetIssuer()
	exp, _ := parsed.GetExpiration()
	iat, _ := parsed.GetIssuedAt()

	sub, err := parsed.GetSubject()
	if err != nil || sub == "" {
		return AccessClaims{}, ErrUnauthorized
	}
	sid, err := parsed.GetString("sid")
	if err != nil || sid == "" {
		return AccessClaims{}, ErrUnauthorized
	}

	return AccessClaims{
		UserID:    sub,
		SessionID: sid,
		ExpiresAt: exp,
		IssuedAt:  iat,
		Issuer:    iss,
	}, nil
}
