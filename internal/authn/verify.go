// ABOUTME: Token verification against the per-source signing slot
// ABOUTME: Scoped tokens are re-checked against the source's current privileges

package authn

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/warden/internal/apierr"
	"github.com/2389/warden/internal/auth"
	"github.com/2389/warden/internal/store"
)

// VerifyToken verifies a token of any kind.
func (e *Engine) VerifyToken(ctx context.Context, token string) (*auth.Claims, error) {
	claims, err := e.verify(ctx, token, 0)
	e.observeVerification(err)
	return claims, err
}

// VerifyTokenKind verifies a token and requires its declared kind.
func (e *Engine) VerifyTokenKind(ctx context.Context, token string, kind auth.TokenKind) (*auth.Claims, error) {
	claims, err := e.verify(ctx, token, kind)
	e.observeVerification(err)
	return claims, err
}

func (e *Engine) verify(ctx context.Context, token string, want auth.TokenKind) (*auth.Claims, error) {
	// Structural checks happen before the store is touched.
	peeked, err := e.codec.Peek(token)
	if err != nil {
		return nil, err
	}
	if want != 0 && peeked.Kind != want {
		return nil, apierr.Unauthorized(fmt.Sprintf("Expected %s, got %s", want.Label(), peeked.Kind.Label()))
	}

	slot, err := e.store.GetTokenCredential(ctx, peeked.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apierr.Wrap(apierr.KindUnauthorized, "Token credential not found", err)
		}
		return nil, storeError(err, "Token credential not found")
	}
	pub, err := auth.DecodePublicKey(slot.PublicKey)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "Corrupt token credential", err)
	}

	claims, err := e.codec.Verify(token, pub)
	if err != nil {
		return nil, err
	}
	if !claims.Kind.Scoped() {
		return claims, nil
	}

	src, err := e.resolveSource(ctx, slot)
	if err != nil {
		return nil, err
	}
	held := make(map[string]bool, len(src.Privileges))
	for _, p := range src.Privileges {
		held[p] = true
	}
	for _, s := range claims.Scope {
		if !held[s] {
			return nil, apierr.Unauthorized("Insufficient privileges")
		}
	}
	return claims, nil
}

func (e *Engine) observeVerification(err error) {
	switch {
	case err == nil:
		e.metrics.ObserveVerification("valid")
	case apierr.Is(err, apierr.KindUnauthorized):
		e.metrics.ObserveVerification("rejected")
	default:
		e.metrics.ObserveVerification("error")
	}
}
