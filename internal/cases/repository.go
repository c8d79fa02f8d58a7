// Package cases looks up ongoing compliance cases for transaction owners.
package cases

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Case statuses
const (
	StatusOpen          = "open"
	StatusInvestigating = "investigating"
	StatusClosed        = "closed"
)

// ErrCaseNotFound is returned when a case id does not exist
var ErrCaseNotFound = errors.New("compliance case not found")

// Lookup resolves the ongoing cases of an owner
type Lookup interface {
	OpenCasesFor(ctx context.Context, ownerID string) ([]string, error)
}

// Case is a compliance case record
type Case struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	OwnerID   string    `gorm:"index;not null" json:"owner_id"`
	Status    string    `gorm:"index;not null" json:"status"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName overrides the gorm table name
func (Case) TableName() string { return "compliance_cases" }

// DatabaseConfig selects the case store
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=postgres sqlite"`
	DSN    string `mapstructure:"dsn"`
}

// Open connects to the case database
func Open(cfg DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite", "":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = ":memory:"
		}
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to open case database: %w", err)
	}
	return db, nil
}

// Repository stores compliance cases with gorm
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new Repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Migrate creates the case table
func (r *Repository) Migrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&Case{})
}

// Create inserts a case, assigning an id and open status when missing
func (r *Repository) Create(ctx context.Context, c *Case) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = StatusOpen
	}
	if err := r.db.WithContext(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("failed to create case: %w", err)
	}
	return nil
}

// UpdateStatus moves a case to a new status and returns the updated case
func (r *Repository) UpdateStatus(ctx context.Context, id, status string) (*Case, error) {
	var c Case
	db := r.db.WithContext(ctx)
	if err := db.First(&c, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCaseNotFound
		}
		return nil, fmt.Errorf("failed to load case %s: %w", id, err)
	}
	if err := db.Model(&c).Update("status", status).Error; err != nil {
		return nil, fmt.Errorf("failed to update case %s: %w", id, err)
	}
	return &c, nil
}

// OpenCasesFor returns the ids of the owner's open or investigating cases,
// oldest first
func (r *Repository) OpenCasesFor(ctx context.Context, ownerID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&Case{}).
		Where("owner_id = ? AND status IN ?", ownerID, []string{StatusOpen, StatusInvestigating}).
		Order("created_at ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load cases for %s: %w", ownerID, err)
	}
	return ids, nil
}
