package bandit

import (
	"math"
	"sync"
	"time"

	"github.com/seehuhn/mt19937"
)

// Source is a uniform random source over [0, math.MaxInt64].
type Source interface {
	Int63() int64
}

type lockedSource struct {
	mu  sync.Mutex
	src *mt19937.MT19937
}

// NewSource returns a goroutine-safe Mersenne Twister source seeded with seed.
func NewSource(seed int64) Source {
	src := mt19937.New()
	src.Seed(seed)

	return &lockedSource{src: src}
}

func (l *lockedSource) Int63() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.src.Int63()
}

func (l *lockedSource) seed(seed int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.src.Seed(seed)
}

var defaultSource = NewSource(time.Now().UnixNano()).(*lockedSource)

// Seed reseeds the process-wide source used by Pick.
func Seed(seed int64) {
	defaultSource.seed(seed)
}

// Pick selects the next arm with the process-wide random source.
func (s *State) Pick() (int, error) {
	return s.PickWith(defaultSource)
}

// PickWith selects the next arm to pull. Unpulled arms always win; once every
// arm has been pulled, all arms sharing the exact maximum bound are candidates.
// Ties are broken uniformly at random. The state is not modified.
func (s *State) PickWith(src Source) (int, error) {
	var buf [MaxArms]int
	choices := buf[:0]

	for i, a := range s.arms {
		if a.Count == 0 {
			choices = append(choices, i)
		}
	}

	if len(choices) == 0 {
		var boundsBuf [MaxArms]float64
		bounds := s.appendBounds(boundsBuf[:0])

		best := math.Inf(-1)
		for _, b := range bounds {
			if b > best {
				best = b
			}
		}

		// floating point, but exact ties do happen (symmetric arms)
		for i, b := range bounds {
			if b == best {
				choices = append(choices, i)
			}
		}
	}

	switch len(choices) {
	case 0:
		return 0, ErrNoChoices
	case 1:
		return choices[0], nil
	default:
		return choices[randInt(src, len(choices))], nil
	}
}

// randInt draws from [0, n) without modulo bias by rejecting draws at or
// above the largest multiple of n that fits the source range.
func randInt(src Source, n int) int {
	limit := (math.MaxInt64 / int64(n)) * int64(n)

	for {
		r := src.Int63()
		if r < limit {
			return int(r % int64(n))
		}
	}
}
