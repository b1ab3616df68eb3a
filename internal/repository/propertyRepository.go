package repository

import (
	"context"

	"github.com/aman-churiwal/property-listings/internal/models"
	"github.com/aman-churiwal/property-listings/internal/storage"
	"gorm.io/gorm"
)

// Filters for the public listing. Nil bounds are not applied.
type PropertyFilter struct {
	City     string
	Type     string
	MinPrice *float64
	MaxPrice *float64
	Limit    int
	Offset   int
}

type PropertyRepository struct {
	db *storage.Database
}

func NewPropertyRepository(db *storage.Database) *PropertyRepository {
	return &PropertyRepository{db: db}
}

func (r *PropertyRepository) Create(ctx context.Context, property *models.Property) error {
	return r.db.DB.WithContext(ctx).Create(property).Error
}

func (r *PropertyRepository) FindByID(ctx context.Context, id string) (*models.Property, error) {
	var property models.Property
	err := r.db.DB.WithContext(ctx).
		Where("id = ?", id).
		First(&property).Error

	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &property, nil
}

// Returns one page of published properties, newest first, with the total
// number of matches
func (r *PropertyRepository) ListPublished(ctx context.Context, filter PropertyFilter) ([]models.Property, int64, error) {
	query := r.db.DB.WithContext(ctx).
		Model(&models.Property{}).
		Where("is_published = ?", true)

	if filter.City != "" {
		query = query.Where("LOWER(city) = LOWER(?)", filter.City)
	}
	if filter.Type != "" {
		query = query.Where("property_type = ?", filter.Type)
	}
	if filter.MinPrice != nil {
		query = query.Where("price >= ?", *filter.MinPrice)
	}
	if filter.MaxPrice != nil {
		query = query.Where("price <= ?", *filter.MaxPrice)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var properties []models.Property
	err := query.
		Order("created_at DESC").
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&properties).Error

	return properties, total, err
}

// Returns the owner's properties, drafts included
func (r *PropertyRepository) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]models.Property, error) {
	var properties []models.Property
	err := r.db.DB.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&properties).Error

	return properties, err
}

func (r *PropertyRepository) Update(ctx context.Context, id string, updates map[string]interface{}) error {
	return r.db.DB.WithContext(ctx).
		Model(&models.Property{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// Deletes the property and the offers made on it
func (r *PropertyRepository) Delete(ctx context.Context, id string) error {
	return r.db.Transaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("property_id = ?", id).Delete(&models.Offer{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&models.Property{}).Error
	})
}

func (r *PropertyRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.DB.WithContext(ctx).Model(&models.Property{}).Count(&count).Error
	return count, err
}
