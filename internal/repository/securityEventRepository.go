package repository

import (
	"context"
	"time"

	"github.com/aman-churiwal/property-listings/internal/models"
	"github.com/aman-churiwal/property-listings/internal/storage"
)

type SecurityEventFilter struct {
	Kind   string
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

type KindCount struct {
	Kind  string `json:"kind"`
	Count int64  `json:"count"`
}

type PathCount struct {
	Path  string `json:"path"`
	Count int64  `json:"count"`
}

type AddressCount struct {
	IPAddress string `json:"ip_address"`
	Count     int64  `json:"count"`
}

type SecurityEventRepository struct {
	db *storage.Database
}

func NewSecurityEventRepository(db *storage.Database) *SecurityEventRepository {
	return &SecurityEventRepository{db: db}
}

// Inserts multiple events (for batch insertion)
func (r *SecurityEventRepository) CreateBatch(ctx context.Context, events []models.SecurityEvent) error {
	if len(events) == 0 {
		return nil
	}

	return r.db.DB.WithContext(ctx).Create(&events).Error
}

// Retrieves events within the filter's time range, newest first, with the total
// count. Timestamps are stored in UTC so bounds are converted before comparing.
func (r *SecurityEventRepository) Find(ctx context.Context, filter SecurityEventFilter) ([]models.SecurityEvent, int64, error) {
	query := r.db.DB.WithContext(ctx).
		Model(&models.SecurityEvent{}).
		Where("created_at BETWEEN ? AND ?", filter.From.UTC(), filter.To.UTC())

	if filter.Kind != "" {
		query = query.Where("kind = ?", filter.Kind)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var events []models.SecurityEvent
	err := query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&events).Error

	return events, total, err
}

// Counts events per kind in a time range
func (r *SecurityEventRepository) CountByKind(ctx context.Context, from, to time.Time) ([]KindCount, error) {
	var counts []KindCount
	err := r.db.DB.WithContext(ctx).
		Model(&models.SecurityEvent{}).
		Select("kind, COUNT(*) AS count").
		Where("created_at BETWEEN ? AND ?", from.UTC(), to.UTC()).
		Group("kind").
		Order("count DESC").
		Scan(&counts).Error

	return counts, err
}

// Returns the most frequently rejected paths
func (r *SecurityEventRepository) TopPaths(ctx context.Context, from, to time.Time, limit int) ([]PathCount, error) {
	var paths []PathCount
	err := r.db.DB.WithContext(ctx).
		Model(&models.SecurityEvent{}).
		Select("path, COUNT(*) AS count").
		Where("created_at BETWEEN ? AND ?", from.UTC(), to.UTC()).
		Group("path").
		Order("count DESC").
		Limit(limit).
		Scan(&paths).Error

	return paths, err
}

// Returns the addresses with the most rejected requests
func (r *SecurityEventRepository) TopAddresses(ctx context.Context, from, to time.Time, limit int) ([]AddressCount, error) {
	var rows []AddressCount
	err := r.db.DB.WithContext(ctx).
		Model(&models.SecurityEvent{}).
		Select("ip_address, COUNT(*) AS count").
		Where("created_at BETWEEN ? AND ?", from.UTC(), to.UTC()).
		Group("ip_address").
		Order("count DESC").
		Limit(limit).
		Scan(&rows).Error

	return rows, err
}

// Deletes events older than the specified time
func (r *SecurityEventRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.DB.WithContext(ctx).
		Where("created_at < ?", before.UTC()).
		Delete(&models.SecurityEvent{})

	return result.RowsAffected, result.Error
}
