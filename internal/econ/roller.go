package econ

import (
	"math/rand"
	"sync"
	"time"
)

// Roller is the randomness source behind dice rolls, event draws, and
// price fluctuation. Tests script it; production wraps math/rand.
type Roller interface {
	// Float64 returns a uniform value in [0, 1).
	Float64() float64
	// Intn returns a uniform value in [0, n).
	Intn(n int) int
}

type lockedRoller struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewRoller returns a time-seeded Roller safe for concurrent use.
func NewRoller() Roller {
	return &lockedRoller{r: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (l *lockedRoller) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

func (l *lockedRoller) Intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Intn(n)
}

// rollDice draws the [1,100] revenue multiplier for a report item.
func rollDice(r Roller) int {
	return 1 + r.Intn(100)
}
