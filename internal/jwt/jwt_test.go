package jwt

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWT_GenerateAndValidate(t *testing.T) {
	j := New("test-secret", time.Minute)
	ctx := context.Background()

	token, err := j.Generate(ctx, "payments-gateway")
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	subject, err := j.Validate(ctx, token)
	assert.NoError(t, err)
	assert.Equal(t, "payments-gateway", subject)
}

func TestJWT_EmptySubject(t *testing.T) {
	j := New("test-secret", time.Minute)

	_, err := j.Generate(context.Background(), " ")
	assert.Error(t, err)
}

func TestJWT_ExpiredToken(t *testing.T) {
	j := New("test-secret", -time.Minute) // already expired
	ctx := context.Background()

	token, err := j.Generate(ctx, "payments-gateway")
	require.NoError(t, err)

	_, err = j.Validate(ctx, token)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestJWT_InvalidToken(t *testing.T) {
	j := New("secret", time.Minute)
	ctx := context.Background()

	// Totally invalid string
	_, err := j.Validate(ctx, "invalid.token.string")
	assert.Error(t, err)

	// Signed with a different key
	other := New("other-secret", time.Minute)
	token, err := other.Generate(ctx, "payments-gateway")
	require.NoError(t, err)
	_, err = j.Validate(ctx, token)
	assert.Error(t, err)

	// No expiry
	unbounded, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "x"}).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = j.Validate(ctx, unbounded)
	assert.Error(t, err)
}

func TestJWT_GetTokenFromRequest(t *testing.T) {
	j := New("secret", time.Minute)
	ctx := context.Background()

	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{"valid", "Bearer abc.def.ghi", "abc.def.ghi", false},
		{"lower case scheme", "bearer token", "token", false},
		{"missing", "", "", true},
		{"wrong scheme", "Basic dXNlcjpwYXNz", "", true},
		{"extra parts", "Bearer a b", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			got, err := j.GetTokenFromRequest(ctx, req)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
