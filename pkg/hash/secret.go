package hash

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const bcryptCost = 12

// Hash bcrypts an enrollment secret for storage in configuration.
func Hash(secret string) (string, error) {
	if len(secret) < 8 {
		return "", fmt.Errorf("secret must be at least 8 characters")
	}

	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(secret), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}

	return string(hashedBytes), nil
}

func Compare(hashedSecret, secret string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedSecret), []byte(secret))
}
