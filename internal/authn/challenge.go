// ABOUTME: Challenge bookkeeping shared by the registration and login ceremonies
// ABOUTME: Hashes challenges for verification links and derives device names from user agents

package authn

import (
	"crypto/sha512"
	"encoding/base64"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/2389/warden/internal/store"
)

// ChallengeHash is the link-safe SHA-512 digest of a challenge.
func ChallengeHash(challenge string) string {
	sum := sha512.Sum512([]byte(challenge))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// setChallenge stores a fresh ceremony session on the row.
func setChallenge(row *store.WebAuthnCredential, session *webauthn.SessionData, expires time.Time) error {
	data, err := encodeSession(session)
	if err != nil {
		return err
	}
	challenge := session.Challenge
	hash := ChallengeHash(challenge)
	row.Challenge = &challenge
	row.ChallengeHash = &hash
	row.ChallengeExpires = &expires
	row.Session = data
	return nil
}

func hasChallenge(row *store.WebAuthnCredential) bool {
	return row.Challenge != nil && len(row.Session) > 0
}

func challengeExpired(row *store.WebAuthnCredential, now time.Time) bool {
	return row.ChallengeExpires == nil || !now.Before(*row.ChallengeExpires)
}

// counterAdvanced reports whether an assertion's signature counter is acceptable.
// Authenticators that do not implement counters always report zero.
func counterAdvanced(prev, next uint32) bool {
	return next > prev || (next == 0 && prev == 0)
}

// DeviceName derives a short label such as "Firefox on Linux" from a user agent.
func DeviceName(userAgent string) string {
	browser := matchFirst(userAgent, [][2]string{
		{"Edg/", "Edge"},
		{"OPR/", "Opera"},
		{"Firefox/", "Firefox"},
		{"Chrome/", "Chrome"},
		{"Safari/", "Safari"},
	})
	os := matchFirst(userAgent, [][2]string{
		{"iPhone", "iOS"},
		{"iPad", "iPadOS"},
		{"Android", "Android"},
		{"Windows", "Windows"},
		{"Mac OS X", "macOS"},
		{"CrOS", "ChromeOS"},
		{"Linux", "Linux"},
	})
	switch {
	case browser != "" && os != "":
		return browser + " on " + os
	case browser != "":
		return browser
	case os != "":
		return os
	default:
		return "Unknown device"
	}
}

func matchFirst(s string, table [][2]string) string {
	for _, entry := range table {
		if strings.Contains(s, entry[0]) {
			return entry[1]
		}
	}
	return ""
}
