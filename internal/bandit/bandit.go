// Package bandit implements a non-contextual multi-armed bandit that picks
// arms with the UCB1 policy and keeps per-arm pull counts and running means.
//
// A State is not safe for concurrent use. Callers serialize access per instance.
package bandit

import (
	"math"
	"unsafe"
)

// MaxArms bounds the arm count accepted by New.
const MaxArms = 64

// Arm holds the statistics of a single arm. Mean is meaningful only once Count > 0.
type Arm struct {
	Count uint64
	Mean  float64
}

type State struct {
	c    float64
	arms []Arm
}

// New creates a state with armCount arms, all counts and means zeroed.
func New(armCount int, c float64) (*State, error) {
	if armCount <= 0 {
		return nil, invalidArgument("arm_count must be > 0")
	}

	if armCount > MaxArms {
		return nil, invalidArgument("too many arms")
	}

	if math.IsNaN(c) || math.IsInf(c, 0) {
		return nil, invalidArgument("c must be a finite real number")
	}

	return &State{c: c, arms: make([]Arm, armCount)}, nil
}

func (s *State) ArmCount() int {
	return len(s.arms)
}

// C returns the exploration constant.
func (s *State) C() float64 {
	return s.c
}

func (s *State) Counts() []uint64 {
	counts := make([]uint64, len(s.arms))
	for i, a := range s.arms {
		counts[i] = a.Count
	}

	return counts
}

func (s *State) Means() []float64 {
	means := make([]float64, len(s.arms))
	for i, a := range s.arms {
		means[i] = a.Mean
	}

	return means
}

// RecordReward applies one observed reward to arm using the online mean update.
// Rewards are not validated, so NaN and infinities propagate into the mean.
func (s *State) RecordReward(arm int, reward float64) (uint64, float64, error) {
	if err := s.checkArm(arm); err != nil {
		return 0, 0, err
	}

	a := &s.arms[arm]
	a.Count++

	if a.Count == 1 {
		a.Mean = reward
	} else {
		a.Mean += (reward - a.Mean) / float64(a.Count)
	}

	return a.Count, a.Mean, nil
}

// ForceSet overwrites the statistics of arm unconditionally.
func (s *State) ForceSet(arm int, count uint64, mean float64) (uint64, float64, error) {
	if err := s.checkArm(arm); err != nil {
		return 0, 0, err
	}

	s.arms[arm] = Arm{Count: count, Mean: mean}

	return count, mean, nil
}

// MemUsage estimates the bytes held by the state.
func (s *State) MemUsage() int {
	return int(unsafe.Sizeof(*s)) + len(s.arms)*int(unsafe.Sizeof(Arm{}))
}

func (s *State) Clone() *State {
	arms := make([]Arm, len(s.arms))
	copy(arms, s.arms)

	return &State{c: s.c, arms: arms}
}

func (s *State) checkArm(arm int) error {
	if arm < 0 || arm >= len(s.arms) {
		return ErrInvalidArm
	}

	return nil
}
