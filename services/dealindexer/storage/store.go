package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when a record is missing.
var ErrNotFound = errors.New("storage: not found")

// Roles accepted by DealsByUser.
const (
	RoleClient     = "client"
	RoleFreelancer = "freelancer"
	RoleAny        = ""
)

// Open connects to Postgres for postgres:// DSNs and to sqlite otherwise,
// then migrates the schema.
func Open(dsn string) (*gorm.DB, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, fmt.Errorf("storage: dsn required")
	}
	var dialector gorm.Dialector
	lower := strings.ToLower(trimmed)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		dialector = postgres.Open(trimmed)
	} else {
		dialector = sqlite.Open(trimmed)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	return db, nil
}

// Store wraps the indexer queries.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// NewStore wraps db.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// DB exposes the underlying handle.
func (s *Store) DB() *gorm.DB { return s.db }

// UpsertDeal inserts or refreshes a deal row. Rows already refreshed by a
// later event are left untouched.
func (s *Store) UpsertDeal(ctx context.Context, deal *Deal) error {
	if deal == nil || deal.ID == 0 {
		return fmt.Errorf("storage: deal id required")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Deal
		err := tx.First(&existing, "id = ?", deal.ID).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
		case err != nil:
			return err
		case existing.LastEventSeq > deal.LastEventSeq:
			return nil
		default:
			deal.CreatedAt = existing.CreatedAt
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).Create(deal).Error
	})
}

// GetDeal loads one deal.
func (s *Store) GetDeal(ctx context.Context, id uint64) (*Deal, error) {
	var deal Deal
	if err := s.db.WithContext(ctx).First(&deal, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &deal, nil
}

// DealsByUser lists the deals an address participates in, newest first.
func (s *Store) DealsByUser(ctx context.Context, address, role string) ([]Deal, error) {
	query := s.db.WithContext(ctx).Model(&Deal{})
	switch role {
	case RoleClient:
		query = query.Where("client = ?", address)
	case RoleFreelancer:
		query = query.Where("freelancer = ?", address)
	case RoleAny:
		query = query.Where("client = ? OR freelancer = ?", address, address)
	default:
		return nil, fmt.Errorf("storage: unknown role %q", role)
	}
	var deals []Deal
	if err := query.Order("id DESC").Find(&deals).Error; err != nil {
		return nil, err
	}
	return deals, nil
}

// AllDeals returns every indexed deal ordered by id.
func (s *Store) AllDeals(ctx context.Context) ([]Deal, error) {
	var deals []Deal
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&deals).Error; err != nil {
		return nil, err
	}
	return deals, nil
}

// UserStats summarises one side of a user's dashboard.
type UserStats struct {
	Total        int    `json:"total"`
	Active       int    `json:"active"`
	Completed    int    `json:"completed"`
	Refunded     int    `json:"refunded"`
	Disputed     int    `json:"disputed"`
	LockedNative string `json:"lockedNative"`
	LockedToken  string `json:"lockedToken"`
	// NextDeadlineSlot is the earliest deadline among active deals.
	NextDeadlineSlot *uint64 `json:"nextDeadlineSlot,omitempty"`
}

// SummarizeDeals computes dashboard figures for the given deals.
func SummarizeDeals(deals []Deal) (UserStats, error) {
	stats := UserStats{Total: len(deals)}
	native := new(uint256.Int)
	token := new(uint256.Int)
	for _, deal := range deals {
		switch deal.Status {
		case StatusActive:
			stats.Active++
			amount, err := uint256.FromDecimal(deal.Amount)
			if err != nil {
				return stats, fmt.Errorf("storage: deal %d amount: %w", deal.ID, err)
			}
			if deal.AssetType == "token" {
				token.Add(token, amount)
			} else {
				native.Add(native, amount)
			}
			if stats.NextDeadlineSlot == nil || deal.DeadlineSlot < *stats.NextDeadlineSlot {
				deadline := deal.DeadlineSlot
				stats.NextDeadlineSlot = &deadline
			}
		case StatusCompleted:
			stats.Completed++
		case StatusRefunded:
			stats.Refunded++
		case StatusDisputed:
			stats.Disputed++
		}
	}
	stats.LockedNative = native.Dec()
	stats.LockedToken = token.Dec()
	return stats, nil
}

// GlobalStats summarises every indexed deal.
type GlobalStats struct {
	UserStats
	Clients      int64 `json:"clients"`
	Freelancers  int64 `json:"freelancers"`
	LastSequence int64 `json:"lastSequence"`
}

// Stats computes global figures.
func (s *Store) Stats(ctx context.Context, cursor string) (GlobalStats, error) {
	var out GlobalStats
	deals, err := s.AllDeals(ctx)
	if err != nil {
		return out, err
	}
	summary, err := SummarizeDeals(deals)
	if err != nil {
		return out, err
	}
	out.UserStats = summary
	if err := s.db.WithContext(ctx).Model(&Deal{}).Distinct("client").Count(&out.Clients).Error; err != nil {
		return out, err
	}
	if err := s.db.WithContext(ctx).Model(&Deal{}).Distinct("freelancer").Count(&out.Freelancers).Error; err != nil {
		return out, err
	}
	seq, err := s.Cursor(ctx, cursor)
	if err != nil {
		return out, err
	}
	out.LastSequence = seq
	return out, nil
}

// Cursor returns the stored sequence for name, or zero.
func (s *Store) Cursor(ctx context.Context, name string) (int64, error) {
	var cursor Cursor
	err := s.db.WithContext(ctx).First(&cursor, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return cursor.Sequence, nil
}

// SaveCursor records the sequence consumed by name.
func (s *Store) SaveCursor(ctx context.Context, name string, seq int64) error {
	cursor := Cursor{Name: name, Sequence: seq, UpdatedAt: s.now().UTC()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"sequence", "updated_at"}),
	}).Create(&cursor).Error
}

// CreateExportJob registers a pending export.
func (s *Store) CreateExportJob(ctx context.Context, requestedBy string) (*ExportJob, error) {
	job := &ExportJob{
		ID:          uuid.New(),
		Status:      ExportPending,
		RequestedBy: requestedBy,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

// FinishExportJob marks the job done, recording either the output or the error.
func (s *Store) FinishExportJob(ctx context.Context, id uuid.UUID, path string, rows int, jobErr error) error {
	completed := s.now().UTC()
	updates := map[string]interface{}{
		"status":       ExportSucceeded,
		"path":         path,
		"rows":         rows,
		"completed_at": &completed,
	}
	if jobErr != nil {
		updates["status"] = ExportFailed
		updates["error"] = jobErr.Error()
	}
	return s.db.WithContext(ctx).Model(&ExportJob{}).Where("id = ?", id).Updates(updates).Error
}

// GetExportJob loads an export job.
func (s *Store) GetExportJob(ctx context.Context, id uuid.UUID) (*ExportJob, error) {
	var job ExportJob
	if err := s.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}
