package syncsvc

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// stateTimeLayout matches the timestamps the dashboard has always shown.
const stateTimeLayout = "2006-01-02 15:04 UTC"

// syncSchedule lists the fixed UTC sync times: every two hours starting
// at 12:00.
var syncSchedule = []string{
	"12:00", "14:00", "16:00", "18:00", "20:00", "22:00",
	"00:00", "02:00", "04:00", "06:00", "08:00", "10:00",
}

// CronSpec is the cron expression equivalent to syncSchedule, for the
// daemon's scheduler. Must be evaluated in UTC.
const CronSpec = "0 */2 * * *"

// SyncState is the persisted record of the last and next scheduled sync.
type SyncState struct {
	LastSync  string   `json:"last_sync"`
	NextSync  string   `json:"next_sync"`
	SyncTimes []string `json:"sync_times"`
}

// newState builds the state written after a successful sync at t.
func newState(t time.Time) SyncState {
	return SyncState{
		LastSync:  t.UTC().Format(stateTimeLayout),
		NextSync:  NextSyncTime(t).Format(stateTimeLayout),
		SyncTimes: syncSchedule,
	}
}

// LastSyncTime parses the recorded last sync timestamp.
func (s SyncState) LastSyncTime() (time.Time, error) {
	return time.Parse(stateTimeLayout, s.LastSync)
}

// NextSyncTimeParsed parses the recorded next sync timestamp.
func (s SyncState) NextSyncTimeParsed() (time.Time, error) {
	return time.Parse(stateTimeLayout, s.NextSync)
}

// SyncNeeded reports whether now is past the recorded next sync time.
func (s SyncState) SyncNeeded(now time.Time) bool {
	next, err := s.NextSyncTimeParsed()
	if err != nil {
		return true
	}
	return now.UTC().After(next)
}

// NextSyncTime returns the first even UTC hour strictly after t.
func NextSyncTime(t time.Time) time.Time {
	t = t.UTC()
	next := t.Truncate(time.Hour)
	for !next.After(t) || next.Hour()%2 != 0 {
		next = next.Add(time.Hour)
	}
	return next
}

// LoadState reads the sync-state file. A missing file is not an error:
// the zero-value state reports SyncNeeded for any time.
func LoadState(path string) (SyncState, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return SyncState{SyncTimes: syncSchedule}, nil
	}
	if err != nil {
		return SyncState{}, fmt.Errorf("failed to read sync state: %w", err)
	}

	var st SyncState
	if err := json.Unmarshal(data, &st); err != nil {
		return SyncState{}, fmt.Errorf("failed to parse sync state: %w", err)
	}
	return st, nil
}

func saveState(path string, st SyncState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sync state: %w", err)
	}

	// Write-then-rename so a crash mid-write can't leave a torn file.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write sync state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace sync state: %w", err)
	}
	return nil
}
