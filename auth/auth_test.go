package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/itsuki-dev/mcp-sessions-go/auth"
)

func TestStaticTokenAuthenticator(t *testing.T) {
	a, err := auth.NewStaticToken("secret-token", "alice")
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ui, err := a.CheckAuthentication(context.Background(), "secret-token")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if ui.UserID() != "alice" {
		t.Fatalf("user id: %q", ui.UserID())
	}

	if _, err := a.CheckAuthentication(context.Background(), "wrong"); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}
}

func TestStaticTokenRequiresToken(t *testing.T) {
	if _, err := auth.NewStaticToken("", "alice"); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func signHS256(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString(secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestHS256Authenticator(t *testing.T) {
	secret := []byte("0123456789abcdef")
	a, err := auth.NewHS256(auth.HS256Config{
		Secret:            secret,
		Issuer:            "https://issuer.test",
		ExpectedAudiences: []string{"https://api.test"},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	now := time.Now()
	valid := signHS256(t, secret, jwt.MapClaims{
		"iss": "https://issuer.test",
		"aud": "https://api.test",
		"sub": "user-1",
		"exp": now.Add(time.Hour).Unix(),
		"iat": now.Unix(),
	})

	ui, err := a.CheckAuthentication(context.Background(), valid)
	if err != nil {
		t.Fatalf("check valid: %v", err)
	}
	if ui.UserID() != "user-1" {
		t.Fatalf("user id: %q", ui.UserID())
	}
	var claims struct {
		Iss string `json:"iss"`
	}
	if err := ui.Claims(&claims); err != nil {
		t.Fatalf("claims: %v", err)
	}
	if claims.Iss != "https://issuer.test" {
		t.Fatalf("iss claim: %q", claims.Iss)
	}

	t.Run("wrong issuer", func(t *testing.T) {
		tok := signHS256(t, secret, jwt.MapClaims{
			"iss": "https://evil.test", "aud": "https://api.test", "sub": "u",
			"exp": now.Add(time.Hour).Unix(),
		})
		if _, err := a.CheckAuthentication(context.Background(), tok); !errors.Is(err, auth.ErrUnauthorized) {
			t.Fatalf("want ErrUnauthorized, got %v", err)
		}
	})

	t.Run("wrong audience", func(t *testing.T) {
		tok := signHS256(t, secret, jwt.MapClaims{
			"iss": "https://issuer.test", "aud": "https://other.test", "sub": "u",
			"exp": now.Add(time.Hour).Unix(),
		})
		if _, err := a.CheckAuthentication(context.Background(), tok); !errors.Is(err, auth.ErrUnauthorized) {
			t.Fatalf("want ErrUnauthorized, got %v", err)
		}
	})

	t.Run("expired", func(t *testing.T) {
		tok := signHS256(t, secret, jwt.MapClaims{
			"iss": "https://issuer.test", "aud": "https://api.test", "sub": "u",
			"exp": now.Add(-2 * time.Hour).Unix(),
		})
		if _, err := a.CheckAuthentication(context.Background(), tok); !errors.Is(err, auth.ErrUnauthorized) {
			t.Fatalf("want ErrUnauthorized, got %v", err)
		}
	})

	t.Run("missing exp", func(t *testing.T) {
		tok := signHS256(t, secret, jwt.MapClaims{
			"iss": "https://issuer.test", "aud": "https://api.test", "sub": "u",
		})
		if _, err := a.CheckAuthentication(context.Background(), tok); !errors.Is(err, auth.ErrUnauthorized) {
			t.Fatalf("want ErrUnauthorized, got %v", err)
		}
	})

	t.Run("wrong key", func(t *testing.T) {
		tok := signHS256(t, []byte("another-secret!!"), jwt.MapClaims{
			"iss": "https://issuer.test", "aud": "https://api.test", "sub": "u",
			"exp": now.Add(time.Hour).Unix(),
		})
		if _, err := a.CheckAuthentication(context.Background(), tok); !errors.Is(err, auth.ErrUnauthorized) {
			t.Fatalf("want ErrUnauthorized, got %v", err)
		}
	})

	t.Run("missing sub", func(t *testing.T) {
		tok := signHS256(t, secret, jwt.MapClaims{
			"iss": "https://issuer.test", "aud": "https://api.test",
			"exp": now.Add(time.Hour).Unix(),
		})
		if _, err := a.CheckAuthentication(context.Background(), tok); !errors.Is(err, auth.ErrUnauthorized) {
			t.Fatalf("want ErrUnauthorized, got %v", err)
		}
	})
}
