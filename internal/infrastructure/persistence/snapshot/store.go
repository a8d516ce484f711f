// Package snapshot persists the single timer session snapshot on top of any
// key-value backend. Every blob is a versioned envelope carrying a BLAKE2b-256
// checksum of its payload, so a torn or tampered write is detected on load and
// reported as "no snapshot" instead of a fabricated session.
package snapshot

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/blake2b"

	"github.com/alem-hub/study-timer/internal/domain/shared"
	"github.com/alem-hub/study-timer/internal/domain/timer"
)

// EnvelopeVersion is the current on-disk format version.
const EnvelopeVersion = 1

// DefaultKey is the storage key used when none is configured.
const DefaultKey = "study_timer:session"

// Envelope is the persisted wrapper around a session payload.
type Envelope struct {
	Version  int             `json:"version"`
	Checksum string          `json:"checksum"`
	Payload  json.RawMessage `json:"payload"`
}

// Store implements timer.SnapshotStore over a timer.KeyValueStore.
type Store struct {
	kv     timer.KeyValueStore
	key    string
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithKey overrides the storage key.
func WithKey(key string) Option {
	return func(s *Store) {
		if key != "" {
			s.key = key
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore creates a snapshot store over kv.
func NewStore(kv timer.KeyValueStore, opts ...Option) *Store {
	s := &Store{
		kv:     kv,
		key:    DefaultKey,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "snapshot_store", "key", s.key)
	return s
}

// Save validates and writes the session. The handles held by the engine are
// never part of the session, so they are never persisted.
func (s *Store) Save(ctx context.Context, sess timer.Session) error {
	if err := sess.Validate(); err != nil {
		return shared.WrapError("persistence", "Save", shared.ErrPersistenceFailure, "refusing to persist invalid session", err)
	}

	blob, err := Encode(sess)
	if err != nil {
		return shared.WrapError("persistence", "Save", shared.ErrPersistenceFailure, "encode snapshot", err)
	}

	if err := s.kv.Put(ctx, s.key, blob); err != nil {
		return shared.WrapError("persistence", "Save", shared.ErrPersistenceFailure, "write snapshot", err)
	}
	return nil
}

// Load reads the snapshot. It returns (nil, nil) when nothing is stored,
// and (nil, ErrCorruptSnapshot) when the stored blob fails verification.
func (s *Store) Load(ctx context.Context) (*timer.Session, error) {
	blob, found, err := s.kv.Get(ctx, s.key)
	if err != nil {
		return nil, shared.WrapError("persistence", "Load", shared.ErrPersistenceFailure, "read snapshot", err)
	}
	if !found {
		return nil, nil
	}

	sess, err := Decode(blob)
	if err != nil {
		s.logger.Warn("discarding corrupt snapshot", "error", err, "size", len(blob))
		return nil, err
	}
	return sess, nil
}

// Clear removes the snapshot. Clearing a missing snapshot is not an error.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.kv.Delete(ctx, s.key); err != nil {
		return shared.WrapError("persistence", "Clear", shared.ErrPersistenceFailure, "delete snapshot", err)
	}
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════
// ENCODING
// ═══════════════════════════════════════════════════════════════════════════

// Encode serializes a session into a checksummed envelope.
func Encode(sess timer.Session) ([]byte, error) {
	payload, err := json.Marshal(sess)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{
		Version:  EnvelopeVersion,
		Checksum: checksum(payload),
		Payload:  payload,
	})
}

// Decode verifies and parses an envelope. Any failure is reported as
// ErrCorruptSnapshot.
func Decode(blob []byte) (*timer.Session, error) {
	var env Envelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return nil, corrupt("malformed envelope", err)
	}
	if env.Version != EnvelopeVersion {
		return nil, corrupt(fmt.Sprintf("unsupported version %d", env.Version), nil)
	}
	if len(env.Payload) == 0 {
		return nil, corrupt("empty payload", nil)
	}
	if env.Checksum != checksum(env.Payload) {
		return nil, corrupt("checksum mismatch", nil)
	}

	dec := json.NewDecoder(bytes.NewReader(env.Payload))
	dec.DisallowUnknownFields()
	var sess timer.Session
	if err := dec.Decode(&sess); err != nil {
		return nil, corrupt("malformed payload", err)
	}
	if err := sess.Validate(); err != nil {
		return nil, corrupt("invalid session", err)
	}
	return &sess, nil
}

func checksum(payload []byte) string {
	sum := blake2b.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func corrupt(msg string, err error) error {
	return shared.WrapError("persistence", "Load", shared.ErrCorruptSnapshot, msg, err)
}
