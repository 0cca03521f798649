package main

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Session tokens are valid for a fixed 7 days from issue. There is no
// revocation: a token stays valid until expiry even if the account is
// deleted in the meantime.
const sessionTTL = 7 * 24 * time.Hour

// SessionClaims is the payload carried by a session token.
type SessionClaims struct {
	UserID string
	Email  string
}

// TokenService issues and verifies HS256-signed session tokens.
type TokenService struct {
	secret []byte
}

func NewTokenService(secret []byte) TokenService {
	return TokenService{secret: secret}
}

func (s TokenService) Issue(userID, email string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"userId": userID,
		"email":  email,
		"exp":    time.Now().Add(sessionTTL).Unix(),
	})
	return token.SignedString(s.secret)
}

// Verify returns the claims of a valid token, or (nil, false) for anything
// else: bad signature, wrong segment count, undecodable body, expired exp,
// non-HMAC signing method. Callers treat false as "unauthenticated".
func (s TokenService) Verify(tokenString string) (*SessionClaims, bool) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrInvalidKeyType
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, false
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, false
	}
	userID, _ := claims["userId"].(string)
	email, _ := claims["email"].(string)
	if userID == "" {
		return nil, false
	}
	return &SessionClaims{UserID: userID, Email: email}, true
}
