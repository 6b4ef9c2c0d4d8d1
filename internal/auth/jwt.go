package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	AccessTokenDuration   = 15 * time.Minute
	PlaybackTokenDuration = 2 * time.Minute
)

const (
	tokenTypeAccess   = "access"
	tokenTypePlayback = "playback"
)

type Claims struct {
	UserID    string `json:"userId"`
	MediaID   string `json:"mediaId,omitempty"`
	TokenType string `json:"type"`
	jwt.RegisteredClaims
}

func GenerateAccessToken(secret string, userID string) (string, error) {
	return generateToken(secret, userID, "", tokenTypeAccess, AccessTokenDuration)
}

// GenerateAccessTokenTTL issues an access token with a custom lifetime, for
// local development credentials.
func GenerateAccessTokenTTL(secret string, userID string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = AccessTokenDuration
	}
	return generateToken(secret, userID, "", tokenTypeAccess, ttl)
}

// GeneratePlaybackToken issues a short-lived token bound to one media item
// and the identity that requested it.
func GeneratePlaybackToken(secret string, userID string, mediaID string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = PlaybackTokenDuration
	}
	return generateToken(secret, userID, mediaID, tokenTypePlayback, ttl)
}

func ValidateToken(secret string, tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// ValidatePlaybackToken checks that tokenStr is a playback token for mediaID.
func ValidatePlaybackToken(secret string, tokenStr string, mediaID string) (*Claims, error) {
	claims, err := ValidateToken(secret, tokenStr)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != tokenTypePlayback {
		return nil, fmt.Errorf("invalid token type %q", claims.TokenType)
	}
	if claims.MediaID != mediaID {
		return nil, fmt.Errorf("token not valid for media %q", mediaID)
	}
	return claims, nil
}

func generateToken(secret string, userID string, mediaID string, tokenType string, duration time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:    userID,
		MediaID:   mediaID,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(duration)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
