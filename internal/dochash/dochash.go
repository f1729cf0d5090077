// Package dochash produces salted, transaction-bound fingerprints of identity
// documents so tampering can be detected without keeping the document.
package dochash

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// SaltBytes is the amount of randomness in a generated salt.
const SaltBytes = 16

// Fingerprint is a one-way digest of a document bound to a transaction.
type Fingerprint struct {
	Hash string `json:"hash"`
	Salt string `json:"salt"`
}

// Hasher computes document fingerprints.
type Hasher struct {
	random io.Reader
}

// NewHasher returns a hasher drawing salts from crypto/rand.
func NewHasher() *Hasher {
	return &Hasher{random: rand.Reader}
}

// Hash fingerprints document for transactionID. An empty salt is replaced by a
// fresh random one, which is returned in the fingerprint.
//
//	first = hex(sha256(base64(document) || salt))
//	hash  = hex(sha256(first || transactionID))
func (h *Hasher) Hash(document []byte, transactionID, salt string) (Fingerprint, error) {
	if salt == "" {
		generated, err := h.newSalt()
		if err != nil {
			return Fingerprint{}, err
		}
		salt = generated
	}
	return Fingerprint{Hash: digest(document, transactionID, salt), Salt: salt}, nil
}

// Verify reports whether document and transactionID reproduce fp.
func (h *Hasher) Verify(document []byte, transactionID string, fp Fingerprint) bool {
	if fp.Salt == "" || fp.Hash == "" {
		return false
	}
	got := digest(document, transactionID, fp.Salt)
	return subtle.ConstantTimeCompare([]byte(got), []byte(fp.Hash)) == 1
}

func (h *Hasher) newSalt() (string, error) {
	random := h.random
	if random == nil {
		random = rand.Reader
	}
	buf := make([]byte, SaltBytes)
	if _, err := io.ReadFull(random, buf); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func digest(document []byte, transactionID, salt string) string {
	inner := sha256.New()
	encoder := base64.NewEncoder(base64.StdEncoding, inner)
	_, _ = encoder.Write(document)
	_ = encoder.Close()
	inner.Write([]byte(salt))
	first := hex.EncodeToString(inner.Sum(nil))

	outer := sha256.Sum256([]byte(first + transactionID))
	return hex.EncodeToString(outer[:])
}

// ErrFingerprintMismatch is returned by callers that treat a failed Verify as
// an error.
var ErrFingerprintMismatch = errors.New("document fingerprint mismatch")
