package archive

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// memoryRepository is used when no database is configured. Contents are lost on restart.
type memoryRepository struct {
	mu     sync.RWMutex
	games  map[string]FinishedGame
	byUser map[string][]string
}

func NewMemoryRepository() Repository {
	return &memoryRepository{
		games:  make(map[string]FinishedGame),
		byUser: make(map[string][]string),
	}
}

func (m *memoryRepository) SaveFinishedGame(_ context.Context, g FinishedGame) error {
	id := strings.TrimSpace(g.GameID)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.games[id]; !exists {
		m.byUser[g.WhiteID] = append(m.byUser[g.WhiteID], id)
		m.byUser[g.BlackID] = append(m.byUser[g.BlackID], id)
	}
	m.games[id] = g
	return nil
}

func (m *memoryRepository) RecentForPlayer(_ context.Context, playerID string, limit int) ([]FinishedGame, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.byUser[strings.TrimSpace(playerID)]
	out := make([]FinishedGame, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.games[id])
	}
	// 최근 종료 순, 같으면 id 역순
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EndedAt.Equal(out[j].EndedAt) {
			return out[i].EndedAt.After(out[j].EndedAt)
		}
		return out[i].GameID > out[j].GameID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
