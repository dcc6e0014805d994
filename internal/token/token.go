// Package token issues and verifies deep-link access tokens: HS256 JWTs
// saying "the bearer may open quiz qid on behalf of user uid" until exp.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalid  = errors.New("token: invalid")
	ErrExpired  = errors.New("token: expired")
	ErrMismatch = errors.New("token: quiz mismatch")
)

const DefaultTTL = 72 * time.Hour

// Claims is the signed payload.
type Claims struct {
	UserID string `json:"uid"`
	QuizID string `json:"qid"`
	jwt.RegisteredClaims
}

// Grant is what a verified token allows.
type Grant struct {
	UserID    string
	QuizID    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type Issuer struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

type Option func(*options)

type options struct {
	now    func() time.Time
	ttl    time.Duration
	issuer string
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithIssuer sets the iss claim on issued tokens.
func WithIssuer(iss string) Option {
	return func(o *options) { o.issuer = strings.TrimSpace(iss) }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, ttl: DefaultTTL}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

func NewIssuer(secret string, opts ...Option) (*Issuer, error) {
	if secret == "" {
		return nil, errors.New("token: empty signing secret")
	}
	o := buildOptions(opts)
	return &Issuer{secret: []byte(secret), ttl: o.ttl, issuer: o.issuer, now: o.now}, nil
}

// Issue signs a token for userID and quizID valid for the configured TTL.
func (i *Issuer) Issue(userID, quizID string) (string, error) {
	if userID == "" || quizID == "" {
		return "", errors.New("token: user and quiz are required")
	}
	now := i.now().UTC()
	claims := &Claims{
		UserID: userID,
		QuizID: quizID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("token: sign: %w", err)
	}
	return s, nil
}

type Verifier struct {
	secret []byte
	now    func() time.Time
	parser *jwt.Parser
}

func NewVerifier(secret string, opts ...Option) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("token: empty signing secret")
	}
	o := buildOptions(opts)
	return &Verifier{
		secret: []byte(secret),
		now:    o.now,
		// Expiry is checked by Verify itself so that it does not depend on
		// the signature being valid.
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}, nil
}

// Verify checks tok and that it grants access to expectedQuizID.
//
// Order: decode, expiry, signature, quiz id. An expired token reports
// ErrExpired even when its signature is wrong.
func (v *Verifier) Verify(tok, expectedQuizID string) (Grant, error) {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return Grant{}, ErrInvalid
	}

	var unverified Claims
	if _, _, err := v.parser.ParseUnverified(tok, &unverified); err != nil {
		return Grant{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if unverified.ExpiresAt == nil {
		return Grant{}, fmt.Errorf("%w: no expiry", ErrInvalid)
	}
	if v.now().After(unverified.ExpiresAt.Time) {
		return Grant{}, ErrExpired
	}

	var claims Claims
	t, err := v.parser.ParseWithClaims(tok, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil || !t.Valid {
		return Grant{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if claims.UserID == "" || claims.QuizID == "" {
		return Grant{}, fmt.Errorf("%w: missing subject", ErrInvalid)
	}
	if claims.QuizID != expectedQuizID {
		return Grant{}, ErrMismatch
	}

	g := Grant{UserID: claims.UserID, QuizID: claims.QuizID, ExpiresAt: claims.ExpiresAt.Time}
	if claims.IssuedAt != nil {
		g.IssuedAt = claims.IssuedAt.Time
	}
	return g, nil
}
