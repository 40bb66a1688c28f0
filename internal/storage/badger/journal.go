package badgerstorage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"

	"github.com/Fuchsoria/banditucb/internal/bandit"
	"github.com/dgraph-io/badger/v4"
)

// ErrJournalCorrupted matches bandit.ErrDecode.
var ErrJournalCorrupted = &bandit.Error{Kind: bandit.KindDecode, Msg: "journal entry corrupted (CRC mismatch)"}

func journalKey(gen, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%016d", generationPrefix(journalName, gen), seq))
}

// entry layout: [4-byte CRC32][json argv]
func encodeEntry(argv []string) ([]byte, error) {
	data, err := json.Marshal(argv)
	if err != nil {
		return nil, fmt.Errorf("cannot encode entry, %w", err)
	}

	entry := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(entry[:4], crc32.ChecksumIEEE(data))
	copy(entry[4:], data)

	return entry, nil
}

func decodeEntry(entry []byte) ([]string, error) {
	if len(entry) < 4 {
		return nil, ErrJournalCorrupted
	}

	data := entry[4:]
	if binary.BigEndian.Uint32(entry[:4]) != crc32.ChecksumIEEE(data) {
		return nil, ErrJournalCorrupted
	}

	var argv []string
	if err := json.Unmarshal(data, &argv); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJournalCorrupted, err)
	}

	return argv, nil
}

func (s *Storage) initSeq() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.View(func(txn *badger.Txn) error {
		gen, err := generation(txn, journalName)
		if err != nil {
			return err
		}

		s.aofGen = gen

		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true

		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(generationPrefix(journalName, gen))
		it.Seek(append(append([]byte{}, prefix...), 0xFF))

		if it.ValidForPrefix(prefix) {
			var seq uint64
			if _, err := fmt.Sscanf(string(it.Item().Key()[len(prefix):]), "%016d", &seq); err == nil {
				s.seq = seq
			}
		}

		return nil
	})
}

// Append writes one command at the end of the journal.
func (s *Storage) Append(ctx context.Context, argv []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entry, err := encodeEntry(argv)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(journalKey(s.aofGen, s.seq+1), entry)
	})
	if err != nil {
		return fmt.Errorf("cannot append journal entry, %w", err)
	}

	s.seq++

	return nil
}

// Replay calls fn for every journal entry in append order and returns how many were applied.
func (s *Storage) Replay(ctx context.Context, fn func(argv []string) error) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	applied := 0

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(generationPrefix(journalName, s.aofGen))
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			entry, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}

			argv, err := decodeEntry(entry)
			if err != nil {
				return fmt.Errorf("entry %s, %w", it.Item().Key(), err)
			}

			if err := fn(argv); err != nil {
				return err
			}

			applied++
		}

		return nil
	})

	return applied, err
}

// Rewrite replaces the whole journal with entries.
func (s *Storage) Rewrite(ctx context.Context, entries [][]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	gen, err := s.replaceGeneration(ctx, journalName, func(wb *badger.WriteBatch, prefix string) error {
		for i, argv := range entries {
			if err := ctx.Err(); err != nil {
				return err
			}

			entry, err := encodeEntry(argv)
			if err != nil {
				return err
			}

			if err := wb.Set([]byte(fmt.Sprintf("%s%016d", prefix, i+1)), entry); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("cannot rewrite journal, %w", err)
	}

	s.aofGen = gen
	s.seq = uint64(len(entries))

	return nil
}

// Truncate drops every journal entry.
func (s *Storage) Truncate(ctx context.Context) error {
	return s.Rewrite(ctx, nil)
}
