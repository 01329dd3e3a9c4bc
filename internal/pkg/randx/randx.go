/*
Package randx provides functions for generating cryptographically secure random identifiers.

Session tokens are UUID v4 strings; connection ids are short Base62 strings that only need
to be unique for the lifetime of the process.
*/
package randx

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

const (
	// Base62Chars defines the character set used for Base62 encoding (0-9, A-Z, a-z).
	Base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	// Base62Len is the total number of characters in the Base62 character set (62).
	Base62Len = int64(len(Base62Chars))

	// ConnectionIDLength is the length of a generated connection id.
	ConnectionIDLength = 12
)

// SessionToken returns a new opaque session token.
func SessionToken() string {
	return uuid.New().String()
}

// IsValidSessionToken reports whether token has the shape produced by SessionToken.
func IsValidSessionToken(token string) bool {
	id, err := uuid.Parse(token)
	return err == nil && id.Version() == 4
}

// ConnectionID returns a new Base62 identifier for a realtime connection.
// It falls back to a UUID if the system random source fails.
func ConnectionID() string {
	id, err := base62(ConnectionIDLength)
	if err != nil {
		return uuid.New().String()
	}
	return id
}

func base62(length int) (string, error) {
	result := make([]byte, length)

	for i := range length {
		num, err := rand.Int(rand.Reader, big.NewInt(Base62Len))
		if err != nil {
			return "", fmt.Errorf("failed to generate random number: %w", err)
		}
		result[i] = Base62Chars[num.Int64()]
	}

	return string(result), nil
}
