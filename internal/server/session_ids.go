package server

import (
	"errors"
	"math/rand/v2"
)

const (
	sessionIDLength    = 8
	maxSessionIDLength = 64
	sessionIDAlphabet  = "abcdefghijkmnpqrstuvwxyz23456789"
)

// GenerateSessionID returns a short random id not reported as taken.
func GenerateSessionID(taken func(string) bool) string {
	for {
		code := make([]byte, sessionIDLength)
		for i := range code {
			code[i] = sessionIDAlphabet[rand.IntN(len(sessionIDAlphabet))]
		}
		id := string(code)
		if taken == nil || !taken(id) {
			return id
		}
	}
}

// ValidateSessionID accepts caller-chosen ids made of letters, digits, '-'
// and '_'.
func ValidateSessionID(id string) error {
	if len(id) == 0 {
		return errors.New("session_id must not be empty")
	}
	if len(id) > maxSessionIDLength {
		return errors.New("session_id is too long (max 64 characters)")
	}
	for _, ch := range id {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9', ch == '-', ch == '_':
		default:
			return errors.New("session_id must contain only letters, digits, '-' and '_'")
		}
	}
	return nil
}
