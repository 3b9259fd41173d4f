package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/contractorvault/broker/internal/common"
)

// Claims carries the standard claims plus the acting identity. Actor is
// the value written into audit entries for everything this bearer does.
type Claims struct {
	jwt.RegisteredClaims
	Actor string
}

func GenerateToken(actor string, secretKey []byte, validityDuration time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validityDuration)),
		},
		Actor: actor,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// GetActorFromToken verifies the signature and expiry and returns the
// acting identity.
func GetActorFromToken(tokenString string, secretKey []byte) (string, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("%w: session expired", common.ErrUnauthorized)
		}
		return "", fmt.Errorf("%w: %s", common.ErrUnauthorized, err)
	}

	if !token.Valid {
		return "", common.ErrUnauthorized
	}

	return claims.Actor, nil
}
