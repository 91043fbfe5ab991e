// Package store persists the most recent snapshot so a restarted service can
// serve the last result before its first cycle completes.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"

	"github.com/couchcryptid/covid-trend-etl/internal/domain"
)

// ErrNoSnapshot is returned by Latest when nothing has been saved yet.
var ErrNoSnapshot = errors.New("no snapshot stored")

var latestKey = []byte("snapshot/latest")

// Store keeps the latest snapshot in badger, zstd-compressed.
type Store struct {
	db      *badger.DB
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	logger  *slog.Logger
}

// Open opens (or creates) a store in dir.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	return open(badger.DefaultOptions(dir).WithLogger(nil), logger)
}

// OpenInMemory opens a store that lives only for the process lifetime.
func OpenInMemory(logger *slog.Logger) (*Store, error) {
	return open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil), logger)
}

func open(opts badger.Options, logger *slog.Logger) (*Store, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		db.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	return &Store{db: db, encoder: encoder, decoder: decoder, logger: logger}, nil
}

// Name identifies the store as a publish sink.
func (s *Store) Name() string { return "store" }

// Publish saves snap as the latest snapshot, replacing any previous one.
func (s *Store) Publish(_ context.Context, snap domain.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	compressed := s.encoder.EncodeAll(data, make([]byte, 0, len(data)/2))

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(latestKey, compressed)
	})
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	s.logger.Debug("snapshot stored", "id", snap.ID, "bytes", len(compressed), "raw_bytes", len(data))
	return nil
}

// Latest returns the most recently saved snapshot or ErrNoSnapshot.
func (s *Store) Latest(_ context.Context) (domain.Snapshot, error) {
	var compressed []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(latestKey)
		if err != nil {
			return err
		}
		compressed, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}

	data, err := s.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("decompress snapshot: %w", err)
	}

	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

// Close releases the codec and closes the database.
func (s *Store) Close() error {
	s.encoder.Close()
	s.decoder.Close()
	return s.db.Close()
}
