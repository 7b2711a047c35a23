// ABOUTME: Token codec for ES384 signed authn, access and refresh tokens
// ABOUTME: Every token is signed by a fresh P-384 key whose public half is stored by the caller

package auth

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/2389/warden/internal/apierr"
)

// TokenKind is the declared type of a token, carried in the "typ" header.
type TokenKind int

const (
	KindAuthn TokenKind = iota + 1
	KindAccess
	KindRefresh
)

// String returns the header value of the kind.
func (k TokenKind) String() string {
	switch k {
	case KindAuthn:
		return "authn_token"
	case KindAccess:
		return "access_token"
	case KindRefresh:
		return "refresh_token"
	default:
		return "unknown"
	}
}

// Label is the human name used in error messages.
func (k TokenKind) Label() string {
	switch k {
	case KindAuthn:
		return "authn token"
	case KindAccess:
		return "access token"
	case KindRefresh:
		return "refresh token"
	default:
		return "token"
	}
}

// Scoped reports whether tokens of this kind carry a scope claim.
func (k TokenKind) Scoped() bool {
	return k == KindAccess || k == KindRefresh
}

// ParseTokenKind maps a "typ" header value to a kind.
func ParseTokenKind(typ string) (TokenKind, error) {
	switch typ {
	case "authn_token":
		return KindAuthn, nil
	case "access_token":
		return KindAccess, nil
	case "refresh_token":
		return KindRefresh, nil
	default:
		return 0, fmt.Errorf("unknown token type %q", typ)
	}
}

// Claims is the claim set shared by every token kind. Scope is only
// serialized for scoped kinds; Kind is filled from the header on parse.
type Claims struct {
	jwt.RegisteredClaims
	Scope []string  `json:"scp,omitempty"`
	Kind  TokenKind `json:"-"`
}

// Grant describes what a token asserts.
type Grant struct {
	Subject string
	TokenID string
	Scope   []string
}

// SignedToken is an encoded token and its expiry.
type SignedToken struct {
	Token   string
	Expires time.Time
	Claims  *Claims
}

// Codec signs and verifies tokens for one issuer.
type Codec struct {
	issuer     string
	ttl        time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewCodec creates a codec. Issuer doubles as the audience.
func NewCodec(issuer string, ttl, refreshTTL time.Duration, now func() time.Time) *Codec {
	if now == nil {
		now = time.Now
	}
	return &Codec{issuer: issuer, ttl: ttl, refreshTTL: refreshTTL, now: now}
}

// TTL returns the lifetime of authn and access tokens.
func (c *Codec) TTL() time.Duration { return c.ttl }

// GenerateKey creates a P-384 signing key and returns it with its SPKI PEM public key.
func GenerateKey() (*ecdsa.PrivateKey, string, error) {
	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		return nil, "", fmt.Errorf("generating signing key: %w", err)
	}
	pub, err := EncodePublicKey(&key.PublicKey)
	if err != nil {
		return nil, "", err
	}
	return key, pub, nil
}

// EncodePublicKey renders a public key as SPKI PEM.
func EncodePublicKey(pub *ecdsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("marshaling public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// DecodePublicKey parses an SPKI PEM public key.
func DecodePublicKey(pemKey string) (*ecdsa.PublicKey, error) {
	pub, err := jwt.ParseECPublicKeyFromPEM([]byte(pemKey))
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	return pub, nil
}

// Sign encodes a token of the given kind. Refresh tokens become valid when
// the access token issued at the same instant expires.
//
// The signature is ES384 as registered in RFC 7518: ECDSA over P-384 with a
// SHA-384 digest of the signing input, encoded as the 96 byte r||s pair.
func (c *Codec) Sign(key *ecdsa.PrivateKey, kind TokenKind, g Grant, issuedAt time.Time) (*SignedToken, error) {
	expires := issuedAt.Add(c.ttl)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Audience:  jwt.ClaimStrings{c.issuer},
			Subject:   g.Subject,
			ID:        g.TokenID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Kind: kind,
	}
	switch kind {
	case KindAuthn:
	case KindAccess:
		claims.Scope = nonNil(g.Scope)
	case KindRefresh:
		claims.Scope = nonNil(g.Scope)
		claims.NotBefore = jwt.NewNumericDate(expires)
		expires = issuedAt.Add(c.refreshTTL)
		claims.ExpiresAt = jwt.NewNumericDate(expires)
	default:
		return nil, fmt.Errorf("cannot sign token of kind %d", kind)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES384, claims)
	token.Header["typ"] = kind.String()
	signed, err := token.SignedString(key)
	if err != nil {
		return nil, fmt.Errorf("signing %s: %w", kind.Label(), err)
	}
	return &SignedToken{Token: signed, Expires: claims.ExpiresAt.Time, Claims: claims}, nil
}

// WellFormed is the cheap structural check applied before any parsing.
func WellFormed(token string) bool {
	return strings.HasPrefix(token, "ey") && strings.Contains(token, ".")
}

// Peek decodes a token without checking its signature. The result is only
// good for locating the key to verify with.
func (c *Codec) Peek(token string) (*Claims, error) {
	if !WellFormed(token) {
		return nil, apierr.Unauthorized("Malformed token")
	}
	claims := &Claims{}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, claims)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindUnauthorized, "Malformed token", err)
	}
	kind, err := kindFromHeader(parsed)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindUnauthorized, "Malformed token", err)
	}
	if claims.ID == "" {
		return nil, apierr.Unauthorized("Malformed token")
	}
	claims.Kind = kind
	return claims, nil
}

// Verify checks the signature and the registered claims against pub.
func (c *Codec) Verify(token string, pub *ecdsa.PublicKey) (*Claims, error) {
	peeked, err := c.Peek(token)
	if err != nil {
		return nil, err
	}
	kind := peeked.Kind

	claims := &Claims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodES384.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithAudience(c.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	_, err = parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return pub, nil
	})
	if err != nil {
		return nil, apierr.Wrap(apierr.KindUnauthorized, describe(err, kind), err)
	}
	claims.Kind = kind
	return claims, nil
}

func kindFromHeader(t *jwt.Token) (TokenKind, error) {
	typ, _ := t.Header["typ"].(string)
	return ParseTokenKind(typ)
}

// verifyErrors is ordered from most to least specific.
var verifyErrors = []error{
	jwt.ErrTokenExpired,
	jwt.ErrTokenNotValidYet,
	jwt.ErrTokenUsedBeforeIssued,
	jwt.ErrTokenSignatureInvalid,
	jwt.ErrTokenInvalidIssuer,
	jwt.ErrTokenInvalidAudience,
	jwt.ErrTokenRequiredClaimMissing,
	jwt.ErrTokenMalformed,
	jwt.ErrTokenUnverifiable,
}

// describe names the kind in the library's message, e.g. "access token is expired".
func describe(err error, kind TokenKind) string {
	for _, known := range verifyErrors {
		if errors.Is(err, known) {
			return strings.Replace(known.Error(), "token", kind.Label(), 1)
		}
	}
	return kind.Label() + " is invalid"
}

func nonNil(scope []string) []string {
	if scope == nil {
		return []string{}
	}
	return scope
}
