package storage

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Deal statuses as reported by the node.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusRefunded  = "refunded"
	StatusDisputed  = "disputed"
)

// Export job states.
const (
	ExportPending   = "PENDING"
	ExportSucceeded = "SUCCEEDED"
	ExportFailed    = "FAILED"
)

// Deal mirrors the on-chain deal record.
type Deal struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement:false"`
	Client       string `gorm:"size:64;index"`
	Freelancer   string `gorm:"size:64;index"`
	AssetType    string `gorm:"size:16"`
	Token        string `gorm:"size:64"`
	Amount       string `gorm:"size:80"`
	DeadlineSlot uint64 `gorm:"index"`
	Mode         string `gorm:"size:16"`
	Status       string `gorm:"size:16;index"`
	CreatedSlot  uint64
	Note         string `gorm:"size:512"`
	// LastEventSeq is the journal sequence that last refreshed the row.
	LastEventSeq int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Cursor stores how far a consumer has read the node's event journal.
type Cursor struct {
	Name      string `gorm:"primaryKey;size:64"`
	Sequence  int64
	UpdatedAt time.Time
}

// ExportJob records a parquet snapshot request.
type ExportJob struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Status      string    `gorm:"size:16;index"`
	RequestedBy string    `gorm:"size:128"`
	Path        string    `gorm:"size:512"`
	Rows        int
	Error       string `gorm:"type:text"`
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// AutoMigrate creates or updates the indexer tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Deal{}, &Cursor{}, &ExportJob{})
}
