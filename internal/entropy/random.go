// Package entropy provides the randomness source for stochastic outcome draws.
// Production uses crypto/rand; tests supply a seeded source so outcome rolls
// are reproducible.
package entropy

import (
	"crypto/rand"
	"encoding/binary"
	mathrand "math/rand"
	"sync"
)

// Source yields uniform random values for outcome draws and delta rolls.
type Source interface {
	// Float64 returns a uniform value in [0, 1).
	Float64() float64
	// IntBetween returns a uniform value in [min, max] inclusive.
	IntBetween(min, max int) int
}

// Crypto is a Source backed by crypto/rand.
type Crypto struct{}

// NewCrypto returns the default production source.
func NewCrypto() *Crypto { return &Crypto{} }

func (*Crypto) Float64() float64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand never fails on supported platforms; 0.5 is a safe draw.
		return 0.5
	}
	// Use only 53 bits for a uniform float64 in [0, 1).
	n := binary.LittleEndian.Uint64(buf[:]) >> 11
	return float64(n) / float64(1<<53)
}

func (c *Crypto) IntBetween(min, max int) int {
	if max <= min {
		return min
	}
	span := max - min + 1
	return min + int(c.Float64()*float64(span))
}

// Seeded is a deterministic Source for tests.
type Seeded struct {
	mu  sync.Mutex
	rng *mathrand.Rand
}

// NewSeeded returns a Source producing a fixed sequence for the given seed.
func NewSeeded(seed int64) *Seeded {
	return &Seeded{rng: mathrand.New(mathrand.NewSource(seed))}
}

func (s *Seeded) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

func (s *Seeded) IntBetween(min, max int) int {
	if max <= min {
		return min
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return min + s.rng.Intn(max-min+1)
}
