package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/semaphore"

	"arcavault/internal/files"
	"arcavault/internal/security"
)

// storeDocument is the plaintext layout of the capability store. The whole
// document is authenticated-encrypted as one blob.
type storeDocument struct {
	Capabilities []Capability `json:"capabilities"`
	RevokedIDs   []string     `json:"revoked_ids"`
}

// Store persists capabilities and the revocation set in a single AES-GCM
// encrypted file. Every read-modify-write cycle holds the store lock for its
// full duration; writes are atomic temp-then-rename. Tampered or corrupted
// data is audited and treated as absent, never surfaced to entitlement
// decisions.
type Store struct {
	path     string
	key      []byte
	sem      *semaphore.Weighted
	detector *security.TamperDetector
	recorder security.TamperRecorder
}

// NewStore creates a capability store. detector and recorder may be nil;
// tamper events are then only logged.
func NewStore(path string, encryptionKey []byte, detector *security.TamperDetector, recorder security.TamperRecorder) (*Store, error) {
	if len(encryptionKey) != security.KeyLength {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", security.KeyLength, len(encryptionKey))
	}
	return &Store{
		path:     path,
		key:      encryptionKey,
		sem:      semaphore.NewWeighted(1),
		detector: detector,
		recorder: recorder,
	}, nil
}

// Add persists a capability. The underlying record is never mutated after
// this point.
func (s *Store) Add(ctx context.Context, c Capability) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.sem.Release(1)

	doc, err := s.loadLocked(ctx)
	if err != nil {
		return err
	}
	doc.Capabilities = append(doc.Capabilities, c)
	return s.persistLocked(ctx, doc)
}

// GetByActionAndScope returns every stored capability for the action, with
// exact scope matches first, then wildcard grants, then remaining records.
// All candidates are returned so the caller can try validity across entries
// and report a precise reason when none is acceptable.
func (s *Store) GetByActionAndScope(ctx context.Context, action, scope string) ([]Capability, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	doc, err := s.loadLocked(ctx)
	s.sem.Release(1)
	if err != nil {
		return nil, err
	}

	var exact, wildcard, rest []Capability
	for _, c := range doc.Capabilities {
		if c.Action != action {
			continue
		}
		switch {
		case c.GameScope == scope:
			exact = append(exact, c)
		case c.GameScope == WildcardScope:
			wildcard = append(wildcard, c)
		default:
			rest = append(rest, c)
		}
	}

	matches := make([]Capability, 0, len(exact)+len(wildcard)+len(rest))
	matches = append(matches, exact...)
	matches = append(matches, wildcard...)
	matches = append(matches, rest...)
	return matches, nil
}

// Revoke adds id to the revocation set. It is idempotent and never removes
// the underlying record.
func (s *Store) Revoke(ctx context.Context, id string) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.sem.Release(1)

	doc, err := s.loadLocked(ctx)
	if err != nil {
		return err
	}
	for _, revoked := range doc.RevokedIDs {
		if revoked == id {
			return nil
		}
	}
	doc.RevokedIDs = append(doc.RevokedIDs, id)
	return s.persistLocked(ctx, doc)
}

// RevokeByAction revokes every stored capability carrying action, including
// records persisted by earlier processes. Returns the ids newly revoked.
func (s *Store) RevokeByAction(ctx context.Context, action string) ([]string, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	doc, err := s.loadLocked(ctx)
	if err != nil {
		return nil, err
	}

	revoked := make(map[string]bool, len(doc.RevokedIDs))
	for _, id := range doc.RevokedIDs {
		revoked[id] = true
	}

	var ids []string
	for _, c := range doc.Capabilities {
		if c.Action == action && !revoked[c.ID] {
			doc.RevokedIDs = append(doc.RevokedIDs, c.ID)
			ids = append(ids, c.ID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if err := s.persistLocked(ctx, doc); err != nil {
		return nil, err
	}
	return ids, nil
}

// IsRevoked reports whether id is in the revocation set
func (s *Store) IsRevoked(ctx context.Context, id string) (bool, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return false, err
	}
	doc, err := s.loadLocked(ctx)
	s.sem.Release(1)
	if err != nil {
		return false, err
	}
	for _, revoked := range doc.RevokedIDs {
		if revoked == id {
			return true, nil
		}
	}
	return false, nil
}

// PurgeExpired removes capabilities whose expiry has passed and drops their
// ids from the revocation set. It returns the number of purged records.
func (s *Store) PurgeExpired(ctx context.Context) (int, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return 0, err
	}
	defer s.sem.Release(1)

	doc, err := s.loadLocked(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	purged := make(map[string]bool)
	kept := doc.Capabilities[:0]
	for _, c := range doc.Capabilities {
		if c.Expired(now) {
			purged[c.ID] = true
			continue
		}
		kept = append(kept, c)
	}
	if len(purged) == 0 {
		return 0, nil
	}
	doc.Capabilities = kept

	revoked := doc.RevokedIDs[:0]
	for _, id := range doc.RevokedIDs {
		if !purged[id] {
			revoked = append(revoked, id)
		}
	}
	doc.RevokedIDs = revoked

	if err := s.persistLocked(ctx, doc); err != nil {
		return 0, err
	}
	return len(purged), nil
}

// loadLocked reads and decrypts the store. The caller holds the store lock.
// A missing file yields an empty document. Integrity or decryption failures
// are audited as tamper events and the data is treated as absent.
func (s *Store) loadLocked(ctx context.Context) (storeDocument, error) {
	var doc storeDocument

	if s.detector != nil {
		ok, err := s.detector.VerifyIntegrity(ctx, s.path)
		if err != nil {
			return doc, fmt.Errorf("integrity check failed: %w", err)
		}
		if !ok {
			return doc, nil
		}
	}

	blob, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return doc, nil
	}
	if err != nil {
		return doc, fmt.Errorf("failed to read capability store: %w", err)
	}

	plaintext, err := security.Open(s.key, blob)
	if err != nil {
		slog.Warn("Capability store failed authenticated decryption, treating as empty",
			slog.String("path", s.path),
		)
		if s.recorder != nil {
			s.recorder.RecordTamper(ctx, s.path, "authenticated decryption failed")
		}
		return storeDocument{}, nil
	}

	if err := json.Unmarshal(plaintext, &doc); err != nil {
		slog.Warn("Capability store contains malformed document, treating as empty",
			slog.String("path", s.path),
		)
		if s.recorder != nil {
			s.recorder.RecordTamper(ctx, s.path, "malformed store document")
		}
		return storeDocument{}, nil
	}
	return doc, nil
}

// persistLocked encrypts and atomically writes the store, then refreshes the
// recorded checksum. The caller holds the store lock.
func (s *Store) persistLocked(ctx context.Context, doc storeDocument) error {
	plaintext, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal capability store: %w", err)
	}
	blob, err := security.Seal(s.key, plaintext)
	if err != nil {
		return fmt.Errorf("failed to encrypt capability store: %w", err)
	}
	if err := files.WriteAtomic(s.path, blob, 0600); err != nil {
		return fmt.Errorf("failed to write capability store: %w", err)
	}
	if s.detector != nil {
		if err := s.detector.UpdateChecksum(ctx, s.path); err != nil {
			return fmt.Errorf("failed to update store checksum: %w", err)
		}
	}
	return nil
}
