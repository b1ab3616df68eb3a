package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Property types accepted by the listings API
const (
	PropertyTypeHouse      = "house"
	PropertyTypeApartment  = "apartment"
	PropertyTypeLand       = "land"
	PropertyTypeCommercial = "commercial"
)

var propertyTypes = map[string]bool{
	PropertyTypeHouse:      true,
	PropertyTypeApartment:  true,
	PropertyTypeLand:       true,
	PropertyTypeCommercial: true,
}

// Reports whether t is a known property type
func ValidPropertyType(t string) bool {
	return propertyTypes[t]
}

// Represents a listed property. Owner and timestamps are never taken from client input.
type Property struct {
	ID           uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	OwnerID      uuid.UUID `gorm:"type:uuid;index;not null" json:"owner_id"`
	Title        string    `gorm:"not null" json:"title"`
	Description  string    `json:"description"`
	Address      string    `json:"address"`
	City         string    `gorm:"index" json:"city"`
	PropertyType string    `gorm:"not null;default:'house'" json:"property_type"`
	Price        float64   `gorm:"not null" json:"price"`
	Bedrooms     int       `json:"bedrooms"`
	Bathrooms    int       `json:"bathrooms"`
	AreaSqm      float64   `json:"area_sqm"`
	IsPublished  bool      `gorm:"index;default:false" json:"is_published"`
	CreatedAt    time.Time `gorm:"index" json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (p *Property) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

func (Property) TableName() string {
	return "properties"
}
