package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/rarehotdog/pjt.mayhem/internal/persona"
	"github.com/rarehotdog/pjt.mayhem/internal/types"
)

// MemoryRepository is an in-process Repository for tests and dry runs.
type MemoryRepository struct {
	mu   sync.Mutex
	rows map[Key]types.InboundRecord
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[Key]types.InboundRecord)}
}

func (m *MemoryRepository) FindUpdate(_ context.Context, bot persona.ID, updateID int64) (*types.InboundRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[Key{Bot: bot, UpdateID: updateID}]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *MemoryRepository) InsertUpdateIfAbsent(_ context.Context, rec *types.InboundRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := Key{Bot: rec.BotID, UpdateID: rec.UpdateID}
	if _, ok := m.rows[k]; ok {
		return false, nil
	}
	m.rows[k] = *rec
	return true, nil
}

func (m *MemoryRepository) UpdateUpdateStatus(_ context.Context, bot persona.ID, updateID int64, status types.UpdateStatus, errText string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := Key{Bot: bot, UpdateID: updateID}
	rec, ok := m.rows[k]
	if !ok {
		return nil
	}
	rec.Status = status
	rec.Error = errText
	rec.ProcessedAt = &at
	m.rows[k] = rec
	return nil
}
