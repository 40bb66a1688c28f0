package bandit

import "math"

// Score is the UCB1 upper bound of one arm given the log of total pulls.
func Score(mean, c float64, count uint64, logTotal float64) float64 {
	if count == 0 {
		return math.NaN()
	}

	return mean + c*math.Sqrt(logTotal/float64(count))
}

// TotalPulls sums pull counts over all arms.
func (s *State) TotalPulls() uint64 {
	var t uint64
	for _, a := range s.arms {
		t += a.Count
	}

	return t
}

// Bounds computes the UCB1 bound of every arm. Arms never pulled get NaN.
func (s *State) Bounds() []float64 {
	return s.appendBounds(make([]float64, 0, len(s.arms)))
}

func (s *State) appendBounds(dst []float64) []float64 {
	logTotal := math.Log(float64(s.TotalPulls()))

	for _, a := range s.arms {
		dst = append(dst, Score(a.Mean, s.c, a.Count, logTotal))
	}

	return dst
}
