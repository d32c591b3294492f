package entitlement

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/semaphore"

	"arcavault/internal/files"
)

// ConsentRecord captures a user's consent to modify data for one scope.
type ConsentRecord struct {
	GameScope string    `json:"game_scope"`
	GrantedAt time.Time `json:"granted_at"`
	Source    string    `json:"source"`
}

// ConsentLedger persists consent records as a plain JSON array. Consent is a
// gate consumed by the entitlement flow before save data is touched; it is
// not a capability and carries no signature.
type ConsentLedger struct {
	path string
	sem  *semaphore.Weighted
}

// NewConsentLedger creates a ledger backed by path
func NewConsentLedger(path string) *ConsentLedger {
	return &ConsentLedger{
		path: path,
		sem:  semaphore.NewWeighted(1),
	}
}

// Has reports whether consent has been recorded for scope
func (l *ConsentLedger) Has(ctx context.Context, scope string) (bool, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return false, err
	}
	records, err := l.load()
	l.sem.Release(1)
	if err != nil {
		return false, err
	}
	for _, r := range records {
		if r.GameScope == scope {
			return true, nil
		}
	}
	return false, nil
}

// Record stores consent for scope. Recording twice is a no-op.
func (l *ConsentLedger) Record(ctx context.Context, scope, source string) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer l.sem.Release(1)

	records, err := l.load()
	if err != nil {
		return err
	}
	for _, r := range records {
		if r.GameScope == scope {
			return nil
		}
	}
	records = append(records, ConsentRecord{
		GameScope: scope,
		GrantedAt: time.Now().UTC(),
		Source:    source,
	})
	return l.persist(records)
}

// List returns all consent records
func (l *ConsentLedger) List(ctx context.Context) ([]ConsentRecord, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer l.sem.Release(1)
	return l.load()
}

func (l *ConsentLedger) load() ([]ConsentRecord, error) {
	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read consent ledger: %w", err)
	}
	var records []ConsentRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse consent ledger: %w", err)
	}
	return records, nil
}

func (l *ConsentLedger) persist(records []ConsentRecord) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal consent ledger: %w", err)
	}
	if err := files.WriteAtomic(l.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write consent ledger: %w", err)
	}
	return nil
}
