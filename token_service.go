package grants

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// ErrTokenInvalid is returned when an access token fails validation.
var ErrTokenInvalid = errors.New("access token is invalid", errors.CategoryAuth).
	WithTextCode("invalid_token").
	WithCode(errors.CodeUnauthorized)

// TokenService signs token state and validates the resulting JWTs
type TokenService interface {
	Sign(state TokenState) (string, error)
	Validate(tokenString string) (jwt.MapClaims, error)
}

// TokenServiceImpl implements the TokenService interface
type TokenServiceImpl struct {
	signingKey []byte
	issuer     string
	logger     Logger
}

// NewTokenService creates a new TokenService instance
func NewTokenService(signingKey []byte, issuer string, logger Logger) *TokenServiceImpl {
	return &TokenServiceImpl{
		signingKey: signingKey,
		issuer:     issuer,
		logger:     normalizeLogger(logger),
	}
}

// Sign renders the state to claims and signs them with HS256.
func (ts *TokenServiceImpl) Sign(state TokenState) (string, error) {
	if len(ts.signingKey) == 0 {
		return "", errors.New("signing key is not configured", errors.CategoryInternal)
	}

	ensureTokenID(&state)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, state.MapClaims())

	signedString, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to sign JWT")
	}

	return signedString, nil
}

// Validate parses and validates a token string, returning its claims
func (ts *TokenServiceImpl) Validate(tokenString string) (jwt.MapClaims, error) {
	parserOptions := make([]jwt.ParserOption, 0, 2)
	parserOptions = append(parserOptions, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Error("TokenService validate encountered unexpected signing method: %v", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, parserOptions...)

	if err != nil {
		return nil, WrapError(ErrTokenInvalid, err, nil)
	}

	if !token.Valid {
		ts.logger.Error("TokenService validate could not validate claims")
		return nil, ErrTokenInvalid
	}

	return claims, nil
}

func ensureTokenID(state *TokenState) {
	if state.TokenID == "" {
		state.TokenID = uuid.NewString()
	}
}
