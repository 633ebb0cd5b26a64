package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"math/big"
	"strconv"
)

const (
	resetTokenSize = 32

	challengeCodeMin = 100000
	challengeCodeMax = 999999
)

var challengeCodeSpan = big.NewInt(challengeCodeMax - challengeCodeMin + 1)

// NewChallengeCode returns a uniformly random six digit code in [100000, 999999].
func NewChallengeCode() (string, error) {
	n, err := rand.Int(rand.Reader, challengeCodeSpan)
	if err != nil {
		return "", err
	}
	code := strconv.FormatInt(challengeCodeMin+n.Int64(), 10)
	if len(code) != 6 {
		return "", errors.New("invalid challenge code length")
	}
	return code, nil
}

// NewResetToken generates an opaque base64url reset token and the hex sha256
// digest under which it is persisted.
func NewResetToken() (token string, hash string, err error) {
	var raw [resetTokenSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", "", err
	}
	token = base64.RawURLEncoding.EncodeToString(raw[:])
	return token, HashResetToken(token), nil
}

func HashResetToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// NewUnusableSecret returns random material for accounts that never log in
// with a password (external identities).
func NewUnusableSecret() (string, error) {
	var raw [resetTokenSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}
