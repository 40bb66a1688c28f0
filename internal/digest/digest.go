// Package digest is the keyspace checksum primitive. Values are fed as 64-bit
// integers grouped in sequences; each finished sequence is folded into the running sum.
package digest

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

type Digest struct {
	seq *xxhash.Digest
	sum uint64
	buf [8]byte
}

func New() *Digest {
	return &Digest{seq: xxhash.New()}
}

func (d *Digest) AddInt64(v int64) {
	binary.LittleEndian.PutUint64(d.buf[:], uint64(v))
	_, _ = d.seq.Write(d.buf[:])
}

func (d *Digest) AddString(s string) {
	_, _ = d.seq.WriteString(s)
}

func (d *Digest) EndSequence() {
	binary.LittleEndian.PutUint64(d.buf[:], d.sum)
	_, _ = d.seq.Write(d.buf[:])

	d.sum = d.seq.Sum64()
	d.seq.Reset()
}

func (d *Digest) Sum64() uint64 {
	return d.sum
}

func (d *Digest) Hex() string {
	return fmt.Sprintf("%016x", d.sum)
}
