// Package db stores leaderboard snapshots taken by gamify.Watcher in PostgreSQL.
package db

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/masa-finance/gamify-sdk-go/pkg/gamify"
	"github.com/masa-finance/gamify-sdk-go/pkg/logger"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrEmptySnapshot is returned when a leaderboard has no entries to store.
var ErrEmptySnapshot = errors.New("leaderboard snapshot has no entries")

const saveBatchSize = 100

// JSONB represents a PostgreSQL JSONB column
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("invalid scan source for JSONB: %T", value)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	*j = m
	return nil
}

// LeaderboardRecord is one ranked user in one poll cycle of a leaderboard.
type LeaderboardRecord struct {
	gorm.Model
	LeaderboardID string         `gorm:"uniqueIndex:idx_leaderboard_snapshot;index;not null"` // Leaderboard polled
	Cycle         int            `gorm:"uniqueIndex:idx_leaderboard_snapshot;not null"`       // Watcher poll cycle
	UserID        string         `gorm:"uniqueIndex:idx_leaderboard_snapshot;index;not null"` // Ranked user
	DisplayName   string
	Rank          int            `gorm:"not null"`
	Points        int            `gorm:"not null;default:0"`
	Level         int            `gorm:"not null;default:0"`
	Period        string         `gorm:"index"`
	BadgeIDs      pq.StringArray `gorm:"type:text[]"`
	Metadata      JSONB          `gorm:"type:jsonb"` // Leaderboard name and pagination at snapshot time
	SnapshotAt    time.Time      `gorm:"index;not null"`
}

// PrepareLeaderboardRecords converts a leaderboard snapshot into database records
func PrepareLeaderboardRecords(lb *gamify.Leaderboard, cycle int, at time.Time) ([]LeaderboardRecord, error) {
	if lb == nil || len(lb.Entries) == 0 {
		return nil, ErrEmptySnapshot
	}

	metadata := JSONB{"name": lb.Name}
	if lb.Pagination != nil {
		metadata["page"] = lb.Pagination.Page
		metadata["total"] = lb.Pagination.Total
		metadata["total_pages"] = lb.Pagination.TotalPages
	}

	records := make([]LeaderboardRecord, 0, len(lb.Entries))
	for _, entry := range lb.Entries {
		if entry.UserID == "" {
			continue
		}
		badges := entry.BadgeIDs
		if badges == nil {
			badges = []string{}
		}
		records = append(records, LeaderboardRecord{
			LeaderboardID: lb.ID,
			Cycle:         cycle,
			UserID:        entry.UserID,
			DisplayName:   entry.DisplayName,
			Rank:          entry.Rank,
			Points:        entry.Points,
			Level:         entry.Level,
			Period:        lb.Period,
			BadgeIDs:      pq.StringArray(badges),
			Metadata:      metadata,
			SnapshotAt:    at,
		})
	}

	if len(records) == 0 {
		return nil, ErrEmptySnapshot
	}
	return records, nil
}

// Open connects to PostgreSQL using a DSN such as
// "host=localhost user=postgres password=postgres dbname=gamify port=5432 sslmode=disable".
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// AutoMigrateLeaderboardRecords creates or updates the leaderboard_records table
func AutoMigrateLeaderboardRecords(db *gorm.DB) error {
	return db.AutoMigrate(&LeaderboardRecord{})
}

// SaveLeaderboardRecords upserts records keyed by leaderboard, cycle and user
func SaveLeaderboardRecords(db *gorm.DB, records []LeaderboardRecord) error {
	if len(records) == 0 {
		return nil
	}

	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "leaderboard_id"}, {Name: "cycle"}, {Name: "user_id"}},
		UpdateAll: true,
	}).CreateInBatches(records, saveBatchSize).Error
}

// MaxCycle returns the highest cycle stored for any leaderboard, or 0 when
// the table is empty. Feed it to gamify.Watcher.SetCycle after a restart so
// new snapshots do not reuse the numbers of earlier runs.
func MaxCycle(db *gorm.DB) (int, error) {
	var cycle int
	err := db.Model(&LeaderboardRecord{}).
		Select("COALESCE(MAX(cycle), 0)").
		Scan(&cycle).Error
	if err != nil {
		return 0, fmt.Errorf("failed to read max cycle: %w", err)
	}
	return cycle, nil
}

// LatestSnapshot returns the records of the most recently taken snapshot of a
// leaderboard, ordered by rank. Rows left over from an older snapshot with the
// same cycle number are excluded.
func LatestSnapshot(db *gorm.DB, leaderboardID string) ([]LeaderboardRecord, error) {
	var latest LeaderboardRecord
	err := db.Where("leaderboard_id = ?", leaderboardID).
		Order("snapshot_at DESC").
		First(&latest).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find latest snapshot: %w", err)
	}

	var records []LeaderboardRecord
	if err := db.Where("leaderboard_id = ? AND cycle = ? AND snapshot_at = ?",
		leaderboardID, latest.Cycle, latest.SnapshotAt).
		Order("rank ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch snapshot: %w", err)
	}
	return records, nil
}

// SnapshotHandler returns a gamify.SnapshotHandler that stores every snapshot in db.
func SnapshotHandler(db *gorm.DB) gamify.SnapshotHandler {
	return func(leaderboardID string, cycle int, lb *gamify.Leaderboard) {
		records, err := PrepareLeaderboardRecords(lb, cycle, time.Now())
		if err != nil {
			logger.Debugf("Skipping leaderboard %s cycle %d: %v", leaderboardID, cycle, err)
			return
		}
		if err := SaveLeaderboardRecords(db, records); err != nil {
			logger.Errorf("Failed to save leaderboard %s cycle %d: %v", leaderboardID, cycle, err)
			return
		}
		logger.Debugf("Saved %d records for leaderboard %s cycle %d", len(records), leaderboardID, cycle)
	}
}
