package assets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Status is the work flag of an asset. The empty status means available.
type Status string

const (
	StatusNone    Status = ""
	StatusRepair  Status = "repair"
	StatusUpgrade Status = "upgrade"
)

var (
	ErrAssetNotFound = errors.New("assets: asset not found")
	ErrInvalidStatus = errors.New("assets: status must be repair or upgrade")
)

// ParseStatus accepts repair or upgrade.
func ParseStatus(value string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(value))) {
	case StatusRepair:
		return StatusRepair, nil
	case StatusUpgrade:
		return StatusUpgrade, nil
	default:
		return StatusNone, ErrInvalidStatus
	}
}

// Asset is one entry of the fixed catalog.
type Asset struct {
	ID        uint      `gorm:"column:id;primaryKey;autoIncrement"`
	Name      string    `gorm:"column:name;size:64;not null"`
	Category  string    `gorm:"column:category;size:64;not null"`
	Status    *string   `gorm:"column:status;size:16;check:status IN ('repair','upgrade')"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (Asset) TableName() string {
	return "assets"
}

// View is the API projection of an asset.
type View struct {
	ID        uint      `json:"id"`
	Name      string    `json:"name"`
	Category  string    `json:"category"`
	Status    *string   `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (a Asset) toView() View {
	return View{
		ID:        a.ID,
		Name:      a.Name,
		Category:  a.Category,
		Status:    a.Status,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

// Catalog returns the seeded assets in insertion order.
func Catalog() []Asset {
	type group struct {
		category string
		singular string
		count    int
	}
	groups := []group{
		{category: "Mana Shrines", singular: "Mana Shrine", count: 2},
		{category: "Magic Towers", singular: "Magic Tower", count: 4},
		{category: "Defense Towers", singular: "Defense Tower", count: 5},
	}
	var catalog []Asset
	for _, g := range groups {
		for index := 1; index <= g.count; index++ {
			catalog = append(catalog, Asset{
				Name:     fmt.Sprintf("%s %d", g.singular, index),
				Category: g.category,
			})
		}
	}
	return catalog
}

// ServiceConfig describes the dependencies of the asset service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service tracks repair and upgrade flags on the asset catalog.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the asset service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errors.New("assets: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// List returns every asset ordered by category then name.
func (s *Service) List(ctx context.Context) ([]View, error) {
	var stored []Asset
	if err := s.db.WithContext(ctx).Order("category").Order("name").Find(&stored).Error; err != nil {
		return nil, fmt.Errorf("assets: list: %w", err)
	}
	return toViews(stored), nil
}

// ListByStatus returns assets flagged with status.
func (s *Service) ListByStatus(ctx context.Context, status Status) ([]View, error) {
	if status != StatusRepair && status != StatusUpgrade {
		return nil, ErrInvalidStatus
	}
	var stored []Asset
	err := s.db.WithContext(ctx).
		Where("status = ?", string(status)).
		Order("category").
		Order("name").
		Find(&stored).Error
	if err != nil {
		return nil, fmt.Errorf("assets: list by status: %w", err)
	}
	return toViews(stored), nil
}

// SetStatus flags an asset for repair or upgrade.
func (s *Service) SetStatus(ctx context.Context, assetID uint, status Status) error {
	if status != StatusRepair && status != StatusUpgrade {
		return ErrInvalidStatus
	}
	return s.update(ctx, assetID, string(status))
}

// ClearStatus marks an asset available again.
func (s *Service) ClearStatus(ctx context.Context, assetID uint) error {
	return s.update(ctx, assetID, nil)
}

func (s *Service) update(ctx context.Context, assetID uint, status any) error {
	result := s.db.WithContext(ctx).
		Model(&Asset{}).
		Where("id = ?", assetID).
		Updates(map[string]any{
			"status":     status,
			"updated_at": s.clock().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("assets: update status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAssetNotFound
	}
	s.logger.Info("asset status updated", zap.Uint("asset_id", assetID), zap.Any("status", status))
	return nil
}

func toViews(stored []Asset) []View {
	views := make([]View, 0, len(stored))
	for _, asset := range stored {
		views = append(views, asset.toView())
	}
	return views
}
