package repository

import (
	"context"

	"github.com/aman-churiwal/property-listings/internal/models"
	"github.com/aman-churiwal/property-listings/internal/storage"
	"gorm.io/gorm"
)

type OfferRepository struct {
	db *storage.Database
}

func NewOfferRepository(db *storage.Database) *OfferRepository {
	return &OfferRepository{db: db}
}

func (r *OfferRepository) Create(ctx context.Context, offer *models.Offer) error {
	return r.db.DB.WithContext(ctx).Create(offer).Error
}

func (r *OfferRepository) FindByID(ctx context.Context, id string) (*models.Offer, error) {
	var offer models.Offer
	err := r.db.DB.WithContext(ctx).
		Where("id = ?", id).
		First(&offer).Error

	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &offer, nil
}

func (r *OfferRepository) ListByProperty(ctx context.Context, propertyID string) ([]models.Offer, error) {
	var offers []models.Offer
	err := r.db.DB.WithContext(ctx).
		Where("property_id = ?", propertyID).
		Order("created_at DESC").
		Find(&offers).Error

	return offers, err
}

func (r *OfferRepository) ListByBuyer(ctx context.Context, buyerID string, limit, offset int) ([]models.Offer, error) {
	var offers []models.Offer
	err := r.db.DB.WithContext(ctx).
		Where("buyer_id = ?", buyerID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&offers).Error

	return offers, err
}

// Moves the offer from one status to another. Returns false when the offer
// was no longer in the from status, so concurrent transitions cannot both win.
func (r *OfferRepository) TransitionStatus(ctx context.Context, id, from, to string) (bool, error) {
	result := r.db.DB.WithContext(ctx).
		Model(&models.Offer{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)

	return result.RowsAffected == 1, result.Error
}

func (r *OfferRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.DB.WithContext(ctx).Model(&models.Offer{}).Count(&count).Error
	return count, err
}
