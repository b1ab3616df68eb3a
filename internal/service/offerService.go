package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/aman-churiwal/property-listings/internal/models"
	"github.com/aman-churiwal/property-listings/internal/repository"
	"github.com/google/uuid"
)

const maxOfferMessageLen = 2000

type OfferService struct {
	offers     *repository.OfferRepository
	properties *repository.PropertyRepository
}

func NewOfferService(offers *repository.OfferRepository, properties *repository.PropertyRepository) *OfferService {
	return &OfferService{
		offers:     offers,
		properties: properties,
	}
}

// Places an offer on a published property the buyer does not own
func (s *OfferService) Create(ctx context.Context, propertyID, buyerID string, amount float64, message string) (*models.Offer, error) {
	buyer, err := uuid.Parse(buyerID)
	if err != nil {
		return nil, ErrForbidden
	}
	property, err := s.findProperty(ctx, propertyID)
	if err != nil {
		return nil, err
	}
	if !property.IsPublished {
		return nil, ErrNotFound
	}
	if property.OwnerID == buyer {
		return nil, invalid("you cannot make an offer on your own property")
	}
	if amount <= 0 {
		return nil, invalid("amount must be positive")
	}
	if len(message) > maxOfferMessageLen {
		return nil, invalid(fmt.Sprintf("message must be at most %d characters", maxOfferMessageLen))
	}

	offer := &models.Offer{
		PropertyID: property.ID,
		BuyerID:    buyer,
		Amount:     amount,
		Message:    strings.TrimSpace(message),
		Status:     models.OfferPending,
	}
	if err := s.offers.Create(ctx, offer); err != nil {
		return nil, fmt.Errorf("failed to create offer: %w", err)
	}

	return offer, nil
}

// Lists offers on a property. Only its owner may see them.
func (s *OfferService) ListForProperty(ctx context.Context, propertyID, callerID string) ([]models.Offer, error) {
	property, err := s.findProperty(ctx, propertyID)
	if err != nil {
		return nil, err
	}
	if property.OwnerID.String() != callerID {
		if !property.IsPublished {
			return nil, ErrNotFound
		}
		return nil, ErrForbidden
	}

	return s.offers.ListByProperty(ctx, propertyID)
}

// Lists offers the caller made
func (s *OfferService) ListMine(ctx context.Context, buyerID string, limit, offset int) ([]models.Offer, error) {
	if offset < 0 {
		offset = 0
	}
	return s.offers.ListByBuyer(ctx, buyerID, PageSize(limit), offset)
}

// Returns an offer to its buyer or to the owner of the property
func (s *OfferService) Get(ctx context.Context, id, callerID string) (*models.Offer, error) {
	offer, property, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if offer.BuyerID.String() != callerID && property.OwnerID.String() != callerID {
		return nil, ErrNotFound
	}
	return offer, nil
}

// Applies a status change. The property owner may accept or reject a pending
// offer; the buyer may withdraw it. Every other change is refused.
func (s *OfferService) UpdateStatus(ctx context.Context, id, callerID, status string) (*models.Offer, error) {
	offer, property, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	isOwner := property.OwnerID.String() == callerID
	isBuyer := offer.BuyerID.String() == callerID
	if !isOwner && !isBuyer {
		return nil, ErrNotFound
	}

	switch status {
	case models.OfferAccepted, models.OfferRejected:
		if !isOwner {
			return nil, fmt.Errorf("%w: only the property owner can %s an offer", ErrForbidden, verb(status))
		}
	case models.OfferWithdrawn:
		if !isBuyer {
			return nil, fmt.Errorf("%w: only the buyer can withdraw an offer", ErrForbidden)
		}
	case models.OfferPending:
		return nil, invalid("an offer cannot be moved back to pending")
	default:
		return nil, invalid("unknown offer status")
	}

	if offer.Status != models.OfferPending {
		return nil, fmt.Errorf("%w: offer is already %s", ErrConflict, offer.Status)
	}

	ok, err := s.offers.TransitionStatus(ctx, id, models.OfferPending, status)
	if err != nil {
		return nil, fmt.Errorf("failed to update offer: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: offer changed concurrently", ErrConflict)
	}

	offer.Status = status
	return offer, nil
}

func verb(status string) string {
	if status == models.OfferAccepted {
		return "accept"
	}
	return "reject"
}

func (s *OfferService) load(ctx context.Context, id string) (*models.Offer, *models.Property, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil, ErrNotFound
	}

	offer, err := s.offers.FindByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if offer == nil {
		return nil, nil, ErrNotFound
	}

	property, err := s.properties.FindByID(ctx, offer.PropertyID.String())
	if err != nil {
		return nil, nil, err
	}
	if property == nil {
		return nil, nil, ErrNotFound
	}

	return offer, property, nil
}

func (s *OfferService) findProperty(ctx context.Context, id string) (*models.Property, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	property, err := s.properties.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if property == nil {
		return nil, ErrNotFound
	}
	return property, nil
}
