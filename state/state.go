// state/state.go
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// RiskState is the slice of governor state that must survive a restart.
// Losing the daily loss accumulator or the sticky halt flag on a crash would
// let a halted engine resume trading on reboot.
type RiskState struct {
	DailyLossR      float64 `json:"daily_loss_r"`
	LastResetDate   string  `json:"last_reset_date"`
	ConsecutiveLoss int     `json:"consecutive_loss"`
	MaxBalance      float64 `json:"max_balance"`
	IsShutdown      bool    `json:"is_shutdown"`
}

// ManagerInterface decouples the governor from the file-backed implementation.
type ManagerInterface interface {
	// Get returns a copy of the persisted risk state.
	Get() RiskState
	// Update replaces the persisted risk state and saves it atomically.
	Update(st RiskState) error
}

// Manager is the concrete file implementation of ManagerInterface.
type Manager struct {
	mu       sync.RWMutex
	filePath string
	state    RiskState
}

// NewManager loads existing state from filePath, or creates a fresh empty
// state file if none exists.
func NewManager(filePath string) (*Manager, error) {
	m := &Manager{filePath: filePath}

	if err := m.load(); err != nil {
		if os.IsNotExist(err) {
			if err := m.save(); err != nil {
				return nil, fmt.Errorf("failed to create initial state file: %w", err)
			}
			return m, nil
		}
		return nil, fmt.Errorf("failed to load risk state: %w", err)
	}
	return m, nil
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.filePath)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, &m.state)
}

// save writes via a temp file and rename so a crash mid-write cannot corrupt
// the state file.
func (m *Manager) save() error {
	data, err := json.MarshalIndent(&m.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal risk state: %w", err)
	}
	tmp := m.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write temporary state file: %w", err)
	}
	return os.Rename(tmp, m.filePath)
}

func (m *Manager) Get() RiskState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) Update(st RiskState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = st
	return m.save()
}
