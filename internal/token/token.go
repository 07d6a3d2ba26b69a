package token

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/openquill/voxsignal/internal/errors"
)

const (
	ErrInvalidRequest errors.Code = "invalid request"
	ErrInvalidToken   errors.Code = "invalid token"
	ErrNoToken        errors.Code = "no token"
)

// Auth verifies caller identity tokens issued by the surrounding
// campaign application. This core trusts whatever identity the token carries.
type Auth interface {
	Sign(userID, displayName string) (string, error)
	Verify(tokenString string) (*Identity, error)
}

// Identity is the token payload: who the caller is, nothing more.
type Identity struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	jwt.RegisteredClaims
}

// NewAuth creates a new authenticator with the HS256 algorithm.
func NewAuth(secret string) Auth {
	return NewAuthWithAlgorithm(secret, jwt.SigningMethodHS256)
}

// NewAuthWithAlgorithm creates an authenticator with the given HMAC algorithm.
func NewAuthWithAlgorithm(secret string, method jwt.SigningMethod) Auth {
	return &authImpl{
		secret:        []byte(secret),
		signingMethod: method,
		allowedMethods: map[string]bool{
			method.Alg(): true,
		},
	}
}

type authImpl struct {
	secret         []byte
	signingMethod  jwt.SigningMethod
	allowedMethods map[string]bool
}

func (a *authImpl) Sign(userID, displayName string) (string, error) {
	if userID == "" {
		return "", errors.New(ErrInvalidRequest, "userID is required")
	}

	claims := &Identity{
		UserID:      userID,
		DisplayName: displayName,
	}

	token := jwt.NewWithClaims(a.signingMethod, claims)
	return token.SignedString(a.secret)
}

// Verify verifies a token with strict algorithm validation.
func (a *authImpl) Verify(tokenString string) (*Identity, error) {
	if tokenString == "" {
		return nil, ErrNoToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &Identity{}, func(token *jwt.Token) (any, error) {
		alg := token.Method.Alg()
		if !a.allowedMethods[alg] {
			return nil, errors.Newf(
				ErrInvalidToken,
				"unexpected signing method: %s (expected: %s)",
				alg, a.signingMethod.Alg(),
			)
		}
		return a.secret, nil
	})

	if err != nil {
		return nil, errors.Wrap(ErrInvalidToken, err, "token verification failed")
	}

	if claims, ok := token.Claims.(*Identity); ok && token.Valid {
		if claims.UserID == "" {
			return nil, errors.New(ErrInvalidToken, "missing user id in token")
		}
		return claims, nil
	}

	return nil, ErrInvalidToken
}
