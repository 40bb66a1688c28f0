package bandit

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func newPopulated(t *testing.T) *State {
	t.Helper()

	s, err := New(4, 0.75)
	require.NoError(t, err)

	_, _, err = s.ForceSet(0, 12, 0.3333333333333333)
	require.NoError(t, err)
	_, _, err = s.ForceSet(1, 1<<40, -17.5)
	require.NoError(t, err)
	_, _, err = s.ForceSet(3, 3, math.Inf(-1))
	require.NoError(t, err)

	return s
}

func TestCodec(t *testing.T) {
	t.Run("test round trip", func(t *testing.T) {
		s := newPopulated(t)

		data, err := s.MarshalBinary()
		require.NoError(t, err)

		got, err := Unmarshal(data)
		require.NoError(t, err)
		require.Equal(t, s.ArmCount(), got.ArmCount())
		require.Equal(t, s.C(), got.C())
		require.Equal(t, s.Counts(), got.Counts())
		require.Equal(t, s.Means(), got.Means())
	})

	t.Run("test NaN mean survives", func(t *testing.T) {
		s, err := New(1, 1)
		require.NoError(t, err)
		_, _, err = s.ForceSet(0, 2, math.NaN())
		require.NoError(t, err)

		data, err := s.MarshalBinary()
		require.NoError(t, err)

		got, err := Unmarshal(data)
		require.NoError(t, err)
		require.True(t, math.IsNaN(got.Means()[0]))
	})

	t.Run("test field order", func(t *testing.T) {
		s, err := New(2, 1.5)
		require.NoError(t, err)
		_, _, err = s.ForceSet(0, 3, 2.5)
		require.NoError(t, err)

		data, err := s.MarshalBinary()
		require.NoError(t, err)

		d := NewDecoder(data)
		require.Equal(t, uint64(EncodingVersion), d.LoadUnsigned())
		require.Equal(t, uint64(2), d.LoadUnsigned())
		require.Equal(t, 1.5, d.LoadDouble())
		require.Equal(t, uint64(3), d.LoadUnsigned())
		require.Equal(t, uint64(0), d.LoadUnsigned())
		require.Equal(t, 2.5, d.LoadDouble())
		require.Equal(t, 0.0, d.LoadDouble())
		require.NoError(t, d.Err())
		require.Zero(t, d.Remaining())
	})

	t.Run("test unknown version is rejected", func(t *testing.T) {
		s := newPopulated(t)

		data, err := s.MarshalBinary()
		require.NoError(t, err)
		data[0] = 1

		_, err = Unmarshal(data)
		require.ErrorIs(t, err, ErrDecode)
	})

	t.Run("test truncated input is rejected", func(t *testing.T) {
		s := newPopulated(t)

		data, err := s.MarshalBinary()
		require.NoError(t, err)

		for _, n := range []int{0, 1, 5, len(data) - 1} {
			_, err = Unmarshal(data[:n])
			require.ErrorIs(t, err, ErrDecode, "length %d", n)
		}
	})

	t.Run("test trailing bytes are rejected", func(t *testing.T) {
		s := newPopulated(t)

		data, err := s.MarshalBinary()
		require.NoError(t, err)

		_, err = Unmarshal(append(data, 0))
		require.ErrorIs(t, err, ErrDecode)
	})

	t.Run("test huge declared arm count is rejected", func(t *testing.T) {
		e := &Encoder{}
		e.SaveUnsigned(EncodingVersion)
		e.SaveUnsigned(math.MaxUint32)
		e.SaveDouble(1)

		_, err := Unmarshal(e.Bytes())
		require.ErrorIs(t, err, ErrDecode)
	})
}

func TestReplay(t *testing.T) {
	t.Run("test replay log shape", func(t *testing.T) {
		s := newPopulated(t)
		ops := s.Replay()

		require.Len(t, ops, s.ArmCount()+1)
		require.Equal(t, Op{Kind: OpInit, ArmCount: 4, C: 0.75}, ops[0])

		for i, op := range ops[1:] {
			require.Equal(t, OpSet, op.Kind)
			require.Equal(t, i, op.Arm)
		}
	})

	t.Run("test replay rebuilds the state", func(t *testing.T) {
		s := newPopulated(t)

		var (
			got *State
			err error
		)

		for _, op := range s.Replay() {
			got, err = Apply(got, op)
			require.NoError(t, err)
		}

		require.Equal(t, s.Counts(), got.Counts())
		require.Equal(t, s.Means(), got.Means())
		require.Equal(t, s.C(), got.C())
	})

	t.Run("test replay is idempotent over existing state", func(t *testing.T) {
		s := newPopulated(t)
		ops := s.Replay()

		other, err := New(2, 9)
		require.NoError(t, err)
		_, _, err = other.RecordReward(1, 3)
		require.NoError(t, err)

		for i := 0; i < 2; i++ {
			for _, op := range ops {
				other, err = Apply(other, op)
				require.NoError(t, err)
			}
		}

		require.Equal(t, s, other)
	})

	t.Run("test set before init", func(t *testing.T) {
		_, err := Apply(nil, Op{Kind: OpSet})
		require.ErrorIs(t, err, ErrPreconditionFailed)
	})
}

type recorder struct {
	values    []int64
	sequences int
}

func (r *recorder) AddInt64(v int64) {
	r.values = append(r.values, v)
}

func (r *recorder) EndSequence() {
	r.sequences++
}

func TestDigest(t *testing.T) {
	t.Run("test contributions", func(t *testing.T) {
		s, err := New(2, 1)
		require.NoError(t, err)
		_, _, err = s.ForceSet(0, 3, 2.9)
		require.NoError(t, err)
		_, _, err = s.ForceSet(1, 5, -1.5)
		require.NoError(t, err)

		r := &recorder{}
		s.Digest(r)

		require.Equal(t, []int64{2, 3, 5, 2, -1}, r.values)
		require.Equal(t, 1, r.sequences)
	})

	t.Run("test fractional part is ignored", func(t *testing.T) {
		a, err := New(1, 1)
		require.NoError(t, err)
		_, _, err = a.ForceSet(0, 1, 4.1)
		require.NoError(t, err)

		b, err := New(1, 2)
		require.NoError(t, err)
		_, _, err = b.ForceSet(0, 1, 4.9)
		require.NoError(t, err)

		ra, rb := &recorder{}, &recorder{}
		a.Digest(ra)
		b.Digest(rb)

		require.Equal(t, ra.values, rb.values)
	})
}
