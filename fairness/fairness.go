// Package fairness implements the provably-fair draw.
//
// A draw is a deterministic function of a secret server seed, a public client
// seed and a nonce: SHA-256("server-client-nonce"), first 32 bits read as an
// unsigned big-endian integer and scaled into [0,1). Publishing the server
// seed once it has been superseded lets anyone recompute past results.
package fairness

import (
	crand "crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// ErrNoCandidates is returned when a draw is requested over an empty set.
// Callers must check for eligible participants before drawing.
var ErrNoCandidates = errors.New("fairness: no eligible candidates")

const separator = "-"

func digest(serverSeed, clientSeed string, nonce uint64) [sha256.Size]byte {
	msg := serverSeed + separator + clientSeed + separator + strconv.FormatUint(nonce, 10)
	return sha256.Sum256([]byte(msg))
}

// Hash returns the hex digest recorded alongside a draw.
func Hash(serverSeed, clientSeed string, nonce uint64) string {
	sum := digest(serverSeed, clientSeed, nonce)
	return hex.EncodeToString(sum[:])
}

// Roll returns the draw value in [0,1).
func Roll(serverSeed, clientSeed string, nonce uint64) float64 {
	sum := digest(serverSeed, clientSeed, nonce)
	return float64(binary.BigEndian.Uint32(sum[:4])) / float64(math.MaxUint32+1)
}

// Draw maps the roll onto an index in [0, n).
func Draw(serverSeed, clientSeed string, nonce uint64, n int) (int, error) {
	if n <= 0 {
		return 0, ErrNoCandidates
	}
	idx := int(math.Floor(Roll(serverSeed, clientSeed, nonce) * float64(n)))
	if idx >= n { // unreachable for roll < 1
		idx = n - 1
	}
	return idx, nil
}

// Commitment is the hex SHA-256 of the server seed alone. It can be published
// while the seed is still in use.
func Commitment(serverSeed string) string {
	sum := sha256.Sum256([]byte(serverSeed))
	return hex.EncodeToString(sum[:])
}

// NewServerSeed returns 32 bytes from crypto/rand, hex encoded.
func NewServerSeed() (string, error) {
	var b [32]byte
	if _, err := crand.Read(b[:]); err != nil {
		return "", fmt.Errorf("read random seed: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}
