package fairplay

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// The chain is a commit-reveal scheme. Each round commits a digest over the
// previous round's digest, the resolved outcome and payout, a fresh random
// secret and the settlement timestamp. The digest is visible to the player
// before the next round can be influenced; the secret is revealed on request
// so anyone can recompute the digest and prove it was not rewritten.

// SeedDigest derives the chain anchor for a (room, player) pair with no
// prior rounds.
func SeedDigest(roomKey, playerKey string) string {
	sum := sha256.Sum256([]byte("seed:" + roomKey + ":" + playerKey))
	return hex.EncodeToString(sum[:])
}

// RoundDigest computes the committed digest for one settled round.
func RoundDigest(prevDigest, outcome string, payout int64, secret string, at time.Time) string {
	material := fmt.Sprintf("%s|%s|%d|%s|%d", prevDigest, outcome, payout, secret, at.UnixNano())
	sum := sha256.Sum256([]byte(material))
	return hex.EncodeToString(sum[:])
}

// NewSecret generates the 32-byte random secret committed into a round.
func NewSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate round secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
