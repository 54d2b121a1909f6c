package utils

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type JwtCustomClaim struct {
	UserId   string `json:"uid"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	Phone    string `json:"phone,omitempty"`
	Email    string `json:"email,omitempty"`
	jwt.StandardClaims
}

func getJwtSecret() []byte {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = os.Getenv("API_SECRET")
	}
	if secret == "" {
		secret = "lease-backend-dev-secret"
	}
	return []byte(secret)
}

// TokenLifespan is TOKEN_HOUR_LIFESPAN, default 24h.
func TokenLifespan() time.Duration {
	hours, err := strconv.Atoi(os.Getenv("TOKEN_HOUR_LIFESPAN"))
	if err != nil || hours <= 0 {
		hours = 24
	}
	return time.Duration(hours) * time.Hour
}

// JwtGenerate signs the claim and returns the token plus its session id (jti).
func JwtGenerate(claim JwtCustomClaim) (string, string, error) {
	now := time.Now()
	sessionId := uuid.NewString()
	claim.StandardClaims = jwt.StandardClaims{
		Id:        sessionId,
		Subject:   claim.UserId,
		ExpiresAt: now.Add(TokenLifespan()).Unix(),
		IssuedAt:  now.Unix(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, &claim)
	token, err := t.SignedString(getJwtSecret())
	if err != nil {
		return "", "", err
	}
	return token, sessionId, nil
}

func JwtValidate(token string) (*JwtCustomClaim, error) {
	parsed, err := jwt.ParseWithClaims(token, &JwtCustomClaim{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("there's a problem with the signing method")
		}
		return getJwtSecret(), nil
	})
	if err != nil {
		return nil, err
	}
	claim, ok := parsed.Claims.(*JwtCustomClaim)
	if !ok || !parsed.Valid {
		return nil, ErrorUnauthorized
	}
	return claim, nil
}

func HashPassword(s string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(s), bcrypt.DefaultCost)
}

func ComparePassword(hashed string, normal string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(normal))
}
