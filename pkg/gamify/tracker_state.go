package gamify

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/masa-finance/gamify-sdk-go/pkg/logger"
)

const (
	defaultStateDir   = ".gamify-sdk"
	trackerStateFile  = "tracker_state.json"
	stateBackupSuffix = ".bak"
)

// TrackerState is the serializable snapshot of the pending events.
type TrackerState struct {
	LastSaved time.Time      `json:"last_saved"`
	Events    []PendingEvent `json:"events"`
}

// PendingEvent is a queued event with the fields Event does not serialize.
type PendingEvent struct {
	Priority       int    `json:"priority"`
	IdempotencyKey string `json:"idempotency_key"`
	Event          Event  `json:"event"`
}

// DefaultStatePath is where SaveState and LoadState go when given no path.
func DefaultStatePath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, defaultStateDir, trackerStateFile)
}

// CurrentState returns the pending events in dispatch order without saving them.
func (t *Tracker) CurrentState() TrackerState {
	t.mu.Lock()
	items := make(trackQueue, len(t.queue))
	copy(items, t.queue)
	t.mu.Unlock()

	sortTrackItems(items)
	state := TrackerState{LastSaved: time.Now(), Events: make([]PendingEvent, 0, len(items))}
	for _, item := range items {
		state.Events = append(state.Events, PendingEvent{
			Priority:       item.priority,
			IdempotencyKey: item.event.IdempotencyKey,
			Event:          item.event,
		})
	}
	return state
}

// SaveState writes the pending events to path (DefaultStatePath when empty).
// The previous file is kept as a .bak copy.
func (t *Tracker) SaveState(path string) error {
	if path == "" {
		path = DefaultStatePath()
	}
	state := t.CurrentState()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal tracker state: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("write tracker state: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		if err := os.Rename(path, path+stateBackupSuffix); err != nil {
			logger.Warnf("Failed to create backup file: %v", err)
		}
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("replace tracker state: %w", err)
	}

	logger.Debugf("Tracker state with %d events saved to %s", len(state.Events), path)
	return nil
}

// LoadState queues the events saved at path (DefaultStatePath when empty),
// falling back to the .bak copy when the main file is unreadable or corrupt.
// Events whose idempotency key is already queued are skipped. A missing file
// is not an error. It returns the number of events restored.
func (t *Tracker) LoadState(path string) (int, error) {
	if path == "" {
		path = DefaultStatePath()
	}

	state, err := readTrackerState(path)
	if err != nil {
		backup, backupErr := readTrackerState(path + stateBackupSuffix)
		if backupErr != nil {
			if errors.Is(err, os.ErrNotExist) && errors.Is(backupErr, os.ErrNotExist) {
				logger.Debugf("No existing tracker state found at %s", path)
				return 0, nil
			}
			return 0, err
		}
		logger.Warnf("Loaded tracker state from backup file: %v", err)
		state = backup
	}

	t.mu.Lock()
	queued := make(map[string]bool, len(t.queue))
	for _, item := range t.queue {
		queued[item.event.IdempotencyKey] = true
	}
	t.mu.Unlock()

	restored := 0
	for _, pending := range state.Events {
		e := pending.Event
		e.IdempotencyKey = pending.IdempotencyKey
		if e.IdempotencyKey != "" && queued[e.IdempotencyKey] {
			logger.Debugf("Skipping duplicate event during state restore: %s", e.IdempotencyKey)
			continue
		}
		if e.IdempotencyKey != "" {
			queued[e.IdempotencyKey] = true
		}
		t.Enqueue(e, pending.Priority)
		restored++
	}

	logger.Infof("Tracker state loaded from %s: %d events restored (last saved: %s)",
		path, restored, state.LastSaved.Format(time.RFC3339))
	return restored, nil
}

func readTrackerState(path string) (TrackerState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return TrackerState{}, err
	}
	var state TrackerState
	if err := json.Unmarshal(data, &state); err != nil {
		return TrackerState{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return state, nil
}

// sortTrackItems orders items the way the dispatcher would pop them.
func sortTrackItems(items trackQueue) {
	sort.SliceStable(items, func(i, j int) bool { return items.Less(i, j) })
}
