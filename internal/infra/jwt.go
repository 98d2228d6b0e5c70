// README: HS256 bearer token verifier for merchant sessions issued by the identity service.
package infra

import (
	"context"
	"errors"

	jwt "github.com/golang-jwt/jwt/v5"
)

type merchantClaims struct {
	UserID string `json:"userId"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

type jwtVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) (TokenVerifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	return &jwtVerifier{secret: []byte(secret)}, nil
}

// VerifyIDToken accepts tokens carrying the merchant id in userId, falling back to sub.
func (v *jwtVerifier) VerifyIDToken(_ context.Context, raw string) (*Token, error) {
	tok, err := jwt.ParseWithClaims(raw, &merchantClaims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	})
	if err != nil || !tok.Valid {
		if err == nil {
			err = errors.New("invalid token")
		}
		return nil, err
	}
	c, _ := tok.Claims.(*merchantClaims)
	if c == nil {
		return nil, errors.New("invalid claims")
	}
	uid := c.UserID
	if uid == "" {
		uid = c.Subject
	}
	if uid == "" {
		return nil, errors.New("token has no subject")
	}
	claims := map[string]interface{}{}
	if c.Role != "" {
		claims["role"] = c.Role
	}
	return &Token{UID: uid, Claims: claims}, nil
}

// SignMerchantToken issues an HS256 token for uid; used by tooling and tests.
func SignMerchantToken(secret, uid, role string, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = uid
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, merchantClaims{UserID: uid, Role: role, RegisteredClaims: claims})
	return tok.SignedString([]byte(secret))
}
