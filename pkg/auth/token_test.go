package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/escrow-ledger/pkg/config"
)

func jwtConfig() config.JWTConfig {
	return config.JWTConfig{
		Secret:            "secret",
		Issuer:            "escrow-ledger",
		ExpirationMinutes: 30,
		Leeway:            5 * time.Second,
	}
}

func TestMintAndParseAccessToken(t *testing.T) {
	cfg := jwtConfig()
	now := time.Now().UTC()
	userID := uuid.New()

	token, err := MintAccessToken(cfg, now, AccessTokenPayload{UserID: userID, Email: "buyer@example.com"})
	require.NoError(t, err)

	claims, err := ParseAccessToken(cfg, token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, userID.String(), claims.Subject)
	assert.Equal(t, cfg.Issuer, claims.Issuer)
	assert.Equal(t, "buyer@example.com", claims.Email)
	assert.NotEmpty(t, claims.ID)
	assert.WithinDuration(t, now.Add(30*time.Minute), claims.ExpiresAt.Time, time.Second)
}

func TestParseAccessTokenRejects(t *testing.T) {
	cfg := jwtConfig()
	token, err := MintAccessToken(cfg, time.Now(), AccessTokenPayload{UserID: uuid.New()})
	require.NoError(t, err)

	wrongSecret := cfg
	wrongSecret.Secret = "other"
	wrongIssuer := cfg
	wrongIssuer.Issuer = "someone-else"

	cases := map[string]struct {
		cfg   config.JWTConfig
		token string
	}{
		"tampered":     {cfg, token + "x"},
		"wrong secret": {wrongSecret, token},
		"wrong issuer": {wrongIssuer, token},
		"no secret":    {config.JWTConfig{}, token},
	}
	for name, tc := range cases {
		_, err := ParseAccessToken(tc.cfg, tc.token)
		assert.Error(t, err, name)
	}
}

func TestParseAccessTokenExpired(t *testing.T) {
	cfg := jwtConfig()
	cfg.ExpirationMinutes = 15
	token, err := MintAccessToken(cfg, time.Now().Add(-time.Hour), AccessTokenPayload{UserID: uuid.New()})
	require.NoError(t, err)

	_, err = ParseAccessToken(cfg, token)
	require.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestParseAccessTokenFallsBackToSubject(t *testing.T) {
	cfg := jwtConfig()
	userID := uuid.New()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    cfg.Issuer,
		Subject:   userID.String(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString([]byte(cfg.Secret))
	require.NoError(t, err)

	claims, err := ParseAccessToken(cfg, signed)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)

	anonymous, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    cfg.Issuer,
		Subject:   "service-account",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString([]byte(cfg.Secret))
	require.NoError(t, err)
	_, err = ParseAccessToken(cfg, anonymous)
	assert.ErrorIs(t, err, errNoUser)
}

func TestMintAccessTokenRequiresUser(t *testing.T) {
	_, err := MintAccessToken(jwtConfig(), time.Now(), AccessTokenPayload{})
	assert.Error(t, err)
}
