package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	OfferPending   = "pending"
	OfferAccepted  = "accepted"
	OfferRejected  = "rejected"
	OfferWithdrawn = "withdrawn"
)

type Offer struct {
	ID         uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	PropertyID uuid.UUID `gorm:"type:uuid;index;not null" json:"property_id"`
	BuyerID    uuid.UUID `gorm:"type:uuid;index;not null" json:"buyer_id"`
	Amount     float64   `gorm:"not null" json:"amount"`
	Message    string    `json:"message"`
	Status     string    `gorm:"index;not null;default:'pending'" json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (o *Offer) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if o.Status == "" {
		o.Status = OfferPending
	}
	return nil
}

func (Offer) TableName() string {
	return "offers"
}
