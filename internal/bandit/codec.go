package bandit

import (
	"encoding/binary"
	"math"
)

// EncodingVersion is the only snapshot format version Unmarshal accepts.
// Layout after the version tag: arm count, c, every count, every mean.
const EncodingVersion = 0

const doubleSize = 8

// Encoder appends unsigned integers as uvarints and doubles as little endian IEEE 754.
type Encoder struct {
	buf []byte
}

func (e *Encoder) SaveUnsigned(v uint64) {
	e.buf = binary.AppendUvarint(e.buf, v)
}

func (e *Encoder) SaveDouble(v float64) {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, math.Float64bits(v))
}

func (e *Encoder) Bytes() []byte {
	return e.buf
}

// Decoder reads what Encoder wrote. The first failure sticks and later loads return zero.
type Decoder struct {
	data []byte
	err  error
}

func NewDecoder(data []byte) *Decoder {
	return &Decoder{data: data}
}

func (d *Decoder) LoadUnsigned() uint64 {
	if d.err != nil {
		return 0
	}

	v, n := binary.Uvarint(d.data)
	if n <= 0 {
		d.err = decodeFailure("corrupt or truncated unsigned value")

		return 0
	}

	d.data = d.data[n:]

	return v
}

func (d *Decoder) LoadDouble() float64 {
	if d.err != nil {
		return 0
	}

	if len(d.data) < doubleSize {
		d.err = decodeFailure("truncated double value")

		return 0
	}

	v := math.Float64frombits(binary.LittleEndian.Uint64(d.data))
	d.data = d.data[doubleSize:]

	return v
}

func (d *Decoder) Remaining() int {
	return len(d.data)
}

func (d *Decoder) Err() error {
	return d.err
}

// Save writes the state fields in the durable order.
func (s *State) Save(e *Encoder) {
	e.SaveUnsigned(uint64(len(s.arms)))
	e.SaveDouble(s.c)

	for _, a := range s.arms {
		e.SaveUnsigned(a.Count)
	}

	for _, a := range s.arms {
		e.SaveDouble(a.Mean)
	}
}

// Load reads a state written by Save for the given encoding version. Values
// are trusted and not checked against New's limits.
func Load(d *Decoder, encver uint64) (*State, error) {
	if encver != EncodingVersion {
		return nil, decodeFailure("unsupported encoding version %d", encver)
	}

	armCount := d.LoadUnsigned()
	c := d.LoadDouble()

	if err := d.Err(); err != nil {
		return nil, err
	}

	// every arm needs at least one count byte and one double
	if armCount > uint64(d.Remaining()/(1+doubleSize)) {
		return nil, decodeFailure("truncated state: %d arms declared", armCount)
	}

	s := &State{c: c, arms: make([]Arm, armCount)}

	for i := range s.arms {
		s.arms[i].Count = d.LoadUnsigned()
	}

	for i := range s.arms {
		s.arms[i].Mean = d.LoadDouble()
	}

	if err := d.Err(); err != nil {
		return nil, err
	}

	return s, nil
}

// MarshalBinary serializes the state behind a leading version tag.
func (s *State) MarshalBinary() ([]byte, error) {
	e := &Encoder{buf: make([]byte, 0, 16+len(s.arms)*(2+doubleSize))}
	e.SaveUnsigned(EncodingVersion)
	s.Save(e)

	return e.Bytes(), nil
}

// Unmarshal decodes bytes produced by MarshalBinary.
func Unmarshal(data []byte) (*State, error) {
	d := NewDecoder(data)

	encver := d.LoadUnsigned()
	if err := d.Err(); err != nil {
		return nil, err
	}

	s, err := Load(d, encver)
	if err != nil {
		return nil, err
	}

	if d.Remaining() != 0 {
		return nil, decodeFailure("%d trailing bytes after state", d.Remaining())
	}

	return s, nil
}

type OpKind int

const (
	OpInit OpKind = iota + 1
	OpSet
)

// Op is one step of a replay log. OpInit uses ArmCount and C, OpSet uses Arm, Count and Mean.
type Op struct {
	Kind     OpKind
	ArmCount int
	C        float64
	Arm      int
	Count    uint64
	Mean     float64
}

// Replay returns the operations that rebuild an equivalent state from nothing:
// one init followed by one set per arm in ascending order.
func (s *State) Replay() []Op {
	ops := make([]Op, 0, len(s.arms)+1)
	ops = append(ops, Op{Kind: OpInit, ArmCount: len(s.arms), C: s.c})

	for i, a := range s.arms {
		ops = append(ops, Op{Kind: OpSet, Arm: i, Count: a.Count, Mean: a.Mean})
	}

	return ops
}

// Apply runs op against s and returns the resulting state. OpInit ignores s.
func Apply(s *State, op Op) (*State, error) {
	switch op.Kind {
	case OpInit:
		return New(op.ArmCount, op.C)
	case OpSet:
		if s == nil {
			return nil, ErrNotInitialized
		}

		if _, _, err := s.ForceSet(op.Arm, op.Count, op.Mean); err != nil {
			return nil, err
		}

		return s, nil
	default:
		return nil, invalidArgument("unknown replay operation")
	}
}

// Digester accumulates integer contributions into a fingerprint.
type Digester interface {
	AddInt64(v int64)
	EndSequence()
}

// Digest feeds the arm count, every count and every mean truncated to an
// integer into d. The fractional part of the means is lost.
func (s *State) Digest(d Digester) {
	d.AddInt64(int64(len(s.arms)))

	for _, a := range s.arms {
		d.AddInt64(int64(a.Count))
	}

	for _, a := range s.arms {
		d.AddInt64(int64(a.Mean))
	}

	d.EndSequence()
}
