package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
)

// staticTokenAuthenticator accepts exactly one shared-secret bearer
// token and maps it to a fixed user id. Intended for demos and tests;
// production deployments should use JWT verification.
type staticTokenAuthenticator struct {
	token  string
	userID string
}

// NewStaticToken builds an Authenticator that accepts token and reports
// the caller as userID.
func NewStaticToken(token, userID string) (Authenticator, error) {
	if token == "" {
		return nil, fmt.Errorf("token is required")
	}
	if userID == "" {
		userID = "static-user"
	}
	return &staticTokenAuthenticator{token: token, userID: userID}, nil
}

func (a *staticTokenAuthenticator) CheckAuthentication(ctx context.Context, tok string) (UserInfo, error) {
	if subtle.ConstantTimeCompare([]byte(tok), []byte(a.token)) != 1 {
		return nil, fmt.Errorf("%w: unknown token", ErrUnauthorized)
	}
	return &userInfo{sub: a.userID, claims: map[string]any{"sub": a.userID}}, nil
}

var _ Authenticator = (*staticTokenAuthenticator)(nil)
