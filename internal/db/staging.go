package db

import (
	"sync"

	"github.com/ldi/tasktree/pkg/models"
)

type StagedItems struct {
	Features     []*models.Feature
	Tasks        []*models.Task
	Dependencies []*models.Dependency
}

// StagingManager provides thread-safe in-memory storage for staged changes,
// keyed by session. Staged records are plain name-keyed values; nothing is
// validated until commit.
type StagingManager struct {
	mu     sync.RWMutex
	staged map[string]*StagedItems
}

func NewStagingManager() *StagingManager {
	return &StagingManager{
		staged: make(map[string]*StagedItems),
	}
}

func newStagedItems() *StagedItems {
	return &StagedItems{
		Features:     []*models.Feature{},
		Tasks:        []*models.Task{},
		Dependencies: []*models.Dependency{},
	}
}

func (sm *StagingManager) AddFeature(sessionID string, feature *models.Feature) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.staged[sessionID] == nil {
		sm.staged[sessionID] = newStagedItems()
	}
	sm.staged[sessionID].Features = append(sm.staged[sessionID].Features, feature)
}

func (sm *StagingManager) AddTask(sessionID string, task *models.Task) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.staged[sessionID] == nil {
		sm.staged[sessionID] = newStagedItems()
	}
	sm.staged[sessionID].Tasks = append(sm.staged[sessionID].Tasks, task)
}

func (sm *StagingManager) AddDependency(sessionID string, dep *models.Dependency) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.staged[sessionID] == nil {
		sm.staged[sessionID] = newStagedItems()
	}
	sm.staged[sessionID].Dependencies = append(sm.staged[sessionID].Dependencies, dep)
}

// GetAndClear removes and returns the session's staged items.
func (sm *StagingManager) GetAndClear(sessionID string) *StagedItems {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	items, ok := sm.staged[sessionID]
	if !ok {
		return newStagedItems()
	}

	delete(sm.staged, sessionID)
	return items
}

// Peek returns the session's staged items without clearing them.
func (sm *StagingManager) Peek(sessionID string) *StagedItems {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	items, ok := sm.staged[sessionID]
	if !ok {
		return newStagedItems()
	}

	return items
}

// Discard drops any staged items for the session without committing them.
func (sm *StagingManager) Discard(sessionID string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.staged, sessionID)
}
