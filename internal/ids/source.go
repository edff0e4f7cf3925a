package ids

import (
	"crypto/rand"
	"fmt"
	"math/big"
	mrand "math/rand/v2"
	"sync"

	"github.com/google/uuid"
)

// Length is the size of every identifier.
const Length = 16

// Alphabet holds the characters an identifier may contain.
const Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// Source draws candidate identifiers. Implementations must be safe for concurrent use.
type Source interface {
	Draw() string
}

// Valid reports whether id has the identifier shape.
func Valid(id string) bool {
	if len(id) != Length {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if !('0' <= c && c <= '9' || 'A' <= c && c <= 'Z' || 'a' <= c && c <= 'z') {
			return false
		}
	}
	return true
}

// RandomSource draws uniformly from Alphabet using crypto/rand.
//
// Thread-safety: RandomSource is stateless and safe for concurrent use.
type RandomSource struct{}

// Draw returns a fresh identifier.
//
// Panics if the system random source fails (should never happen in practice).
func (RandomSource) Draw() string {
	out := make([]byte, 0, Length)
	buf := make([]byte, Length*2)
	for len(out) < Length {
		if _, err := rand.Read(buf); err != nil {
			panic(fmt.Sprintf("ids: crypto/rand: %v", err))
		}
		for _, b := range buf {
			// 248 = 4*62; rejecting the rest keeps the distribution uniform
			if b >= 248 {
				continue
			}
			out = append(out, Alphabet[int(b)%len(Alphabet)])
			if len(out) == Length {
				break
			}
		}
	}
	return string(out)
}

// SeededSource is a reproducible Source for tests and demos.
//
// Thread-safety: SeededSource is safe for concurrent use via internal mutex.
type SeededSource struct {
	mu  sync.Mutex
	rng *mrand.Rand
}

// NewSeededSource returns a Source whose sequence depends only on seed.
func NewSeededSource(seed uint64) *SeededSource {
	return &SeededSource{rng: mrand.New(mrand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Draw returns the next identifier in the seeded sequence.
func (s *SeededSource) Draw() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]byte, Length)
	for i := range out {
		out[i] = Alphabet[s.rng.IntN(len(Alphabet))]
	}
	return string(out)
}

// UUIDv7Source derives identifiers from UUIDv7 values so ids drawn later
// tend to sort after earlier ones. The 128-bit UUID is base62 encoded and
// truncated to Length characters, keeping the timestamp prefix.
//
// Thread-safety: UUIDv7Source is stateless and safe for concurrent use.
type UUIDv7Source struct{}

// Draw returns a time-ordered identifier.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Source) Draw() string {
	u := uuid.Must(uuid.NewV7())
	n := new(big.Int).SetBytes(u[:])
	return encodeBase62(n, 22)[:Length]
}

// encodeBase62 renders n most-significant digit first, left-padded with '0' to width.
func encodeBase62(n *big.Int, width int) string {
	out := make([]byte, width)
	base := big.NewInt(int64(len(Alphabet)))
	rem := new(big.Int)
	v := new(big.Int).Set(n)
	for i := width - 1; i >= 0; i-- {
		v.QuoRem(v, base, rem)
		out[i] = Alphabet[rem.Int64()]
	}
	return string(out)
}

// FixedSource returns predetermined identifiers for testing.
//
// Thread-safety: FixedSource is safe for concurrent use via internal mutex.
type FixedSource struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedSource creates a source that returns ids in order.
//
// Example:
//
//	src := NewFixedSource("AAAAAAAAAAAAAAAA", "BBBBBBBBBBBBBBBB")
//	src.Draw() // "AAAAAAAAAAAAAAAA"
//	src.Draw() // "BBBBBBBBBBBBBBBB"
//	src.Draw() // panic: all ids exhausted
func NewFixedSource(ids ...string) *FixedSource {
	return &FixedSource{ids: ids}
}

// Draw returns the next predetermined id.
//
// Panics if all ids have been consumed. This catches tests that allocate
// more identifiers than they planned for.
func (s *FixedSource) Draw() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.idx >= len(s.ids) {
		panic("FixedSource: all ids exhausted")
	}
	id := s.ids[s.idx]
	s.idx++
	return id
}
