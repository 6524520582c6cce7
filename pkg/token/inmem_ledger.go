package token

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemLedger is an in-memory LedgerRepository for tests and demos. It
// mirrors the Postgres implementation's semantics, including the atomic
// consume-for-rotation.
type InMemLedger struct {
	mu      sync.Mutex
	records map[uuid.UUID]RefreshTokenRecord
}

// NewInMemLedger creates an empty in-memory ledger.
func NewInMemLedger() *InMemLedger {
	return &InMemLedger{
		records: make(map[uuid.UUID]RefreshTokenRecord),
	}
}

func (l *InMemLedger) Save(ctx context.Context, record RefreshTokenRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	l.records[record.JTI] = record
	return nil
}

func (l *InMemLedger) Get(ctx context.Context, jti uuid.UUID) (RefreshTokenRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.records[jti]
	if !ok {
		return RefreshTokenRecord{}, ErrNotFound
	}
	return r, nil
}

func (l *InMemLedger) ConsumeForRotation(ctx context.Context, jti uuid.UUID, token string) (RefreshTokenRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.records[jti]
	if !ok {
		return RefreshTokenRecord{}, ErrNotFound
	}
	if r.Revoked {
		return r, ErrReused
	}
	if r.Token != token || time.Now().UTC().After(r.ExpiresAt) {
		return RefreshTokenRecord{}, ErrInvalid
	}

	r.Revoked = true
	l.records[jti] = r
	return r, nil
}

func (l *InMemLedger) Revoke(ctx context.Context, jti uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if r, ok := l.records[jti]; ok {
		r.Revoked = true
		l.records[jti] = r
	}
	return nil
}

func (l *InMemLedger) RevokeAllForUser(ctx context.Context, userID int64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var revoked int64
	for jti, r := range l.records {
		if r.UserID == userID && !r.Revoked {
			r.Revoked = true
			l.records[jti] = r
			revoked++
		}
	}
	return revoked, nil
}

func (l *InMemLedger) DeleteExpired(ctx context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC()
	var removed int64
	for jti, r := range l.records {
		if now.After(r.ExpiresAt) {
			delete(l.records, jti)
			removed++
		}
	}
	return removed, nil
}
