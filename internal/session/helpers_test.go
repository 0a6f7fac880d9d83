package session

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// signToken returns an HS256 token for sub expiring at exp (no exp when zero).
func signToken(t *testing.T, sub, email string, exp time.Time) string {
	t.Helper()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: sub},
		Email:            email,
		Role:             "authenticated",
	}
	if !exp.IsZero() {
		claims.ExpiresAt = jwt.NewNumericDate(exp)
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}
