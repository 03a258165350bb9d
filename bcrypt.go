package grants

import (
	"errors"

	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/crypto/bcrypt"
)

// ErrNoEmptyString is returned when hashing an empty secret
var ErrNoEmptyString = goerrors.New("secret must not be empty", goerrors.CategoryBadInput).
	WithTextCode(CodeInvalidRequest).
	WithCode(goerrors.CodeBadRequest)

// ErrMismatchedHashAndSecret is returned when a secret does not match its hash
var ErrMismatchedHashAndSecret = goerrors.New("secret does not match hash", goerrors.CategoryAuth).
	WithTextCode(CodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// HashSecret will generate a bcrypt hash for a client secret or password
func HashSecret(secret string) (string, error) {
	if secret == "" {
		return "", ErrNoEmptyString
	}

	h, err := bcrypt.GenerateFromPassword([]byte(secret), secretHashCost())
	return string(h), err
}

// CompareSecretAndHash will validate the given cleartext
// secret matches the hashed secret
func CompareSecretAndHash(secret, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrMismatchedHashAndSecret
		}
		return err
	}
	return nil
}
