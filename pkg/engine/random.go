package engine

import (
	"math/rand"
	"sync"
)

const (
	snrMin    = -20
	snrMax    = 20
	tdriftMax = 2.0
)

// Randomizer supplies the simulated signal quality of a reception
type Randomizer interface {
	// SNR returns a signal-to-noise ratio in [-20, 20]
	SNR() int
	// TimeDrift returns a time drift in seconds in [-2, 2]
	TimeDrift() float64
}

type mathRandomizer struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewRandomizer returns a Randomizer safe for concurrent use
func NewRandomizer(seed int64) Randomizer {
	return &mathRandomizer{r: rand.New(rand.NewSource(seed))}
}

func (m *mathRandomizer) SNR() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return snrMin + m.r.Intn(snrMax-snrMin+1)
}

func (m *mathRandomizer) TimeDrift() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return -tdriftMax + 2*tdriftMax*m.r.Float64()
}
