package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aman-churiwal/property-listings/internal/models"
	"github.com/aman-churiwal/property-listings/internal/repository"
	"github.com/aman-churiwal/property-listings/internal/storage"
	"github.com/google/uuid"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100

	propertyCacheTTL = 5 * time.Minute
)

// Fields a client may set. Owner and timestamps are never taken from input.
type PropertyInput struct {
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	Address      string  `json:"address"`
	City         string  `json:"city"`
	PropertyType string  `json:"property_type"`
	Price        float64 `json:"price"`
	Bedrooms     int     `json:"bedrooms"`
	Bathrooms    int     `json:"bathrooms"`
	AreaSqm      float64 `json:"area_sqm"`
	IsPublished  bool    `json:"is_published"`
}

// Partial update; nil fields are left alone
type PropertyPatch struct {
	Title        *string  `json:"title"`
	Description  *string  `json:"description"`
	Address      *string  `json:"address"`
	City         *string  `json:"city"`
	PropertyType *string  `json:"property_type"`
	Price        *float64 `json:"price"`
	Bedrooms     *int     `json:"bedrooms"`
	Bathrooms    *int     `json:"bathrooms"`
	AreaSqm      *float64 `json:"area_sqm"`
	IsPublished  *bool    `json:"is_published"`
}

type PropertyService struct {
	repository *repository.PropertyRepository
	redis      *storage.RedisClient
	logger     *slog.Logger
}

func NewPropertyService(repo *repository.PropertyRepository, redis *storage.RedisClient) *PropertyService {
	return &PropertyService{
		repository: repo,
		redis:      redis,
		logger:     slog.Default().With("component", "properties"),
	}
}

// Clamps a requested page size into [1, MaxPageSize]
func PageSize(requested int) int {
	if requested <= 0 {
		return DefaultPageSize
	}
	if requested > MaxPageSize {
		return MaxPageSize
	}
	return requested
}

func (s *PropertyService) List(ctx context.Context, filter repository.PropertyFilter) ([]models.Property, int64, error) {
	if filter.Type != "" && !models.ValidPropertyType(filter.Type) {
		return nil, 0, invalid("unknown property type")
	}
	if filter.MinPrice != nil && filter.MaxPrice != nil && *filter.MinPrice > *filter.MaxPrice {
		return nil, 0, invalid("min_price must not exceed max_price")
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	filter.Limit = PageSize(filter.Limit)

	return s.repository.ListPublished(ctx, filter)
}

func (s *PropertyService) ListMine(ctx context.Context, ownerID string, limit, offset int) ([]models.Property, error) {
	if offset < 0 {
		offset = 0
	}
	return s.repository.ListByOwner(ctx, ownerID, PageSize(limit), offset)
}

// Returns a property visible to viewerID: published ones to anyone, drafts
// only to their owner. viewerID may be empty for anonymous callers.
func (s *PropertyService) Get(ctx context.Context, id, viewerID string) (*models.Property, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	property, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if property == nil {
		return nil, ErrNotFound
	}
	if !property.IsPublished && property.OwnerID.String() != viewerID {
		return nil, ErrNotFound
	}

	return property, nil
}

func cacheKey(id string) string {
	return fmt.Sprintf("property:cache:%s", id)
}

// Cache-aside read. Cache errors fall through to the database.
func (s *PropertyService) load(ctx context.Context, id string) (*models.Property, error) {
	key := cacheKey(id)

	if cached, err := s.redis.Get(ctx, key); err == nil && cached != "" {
		var property models.Property
		if err := json.Unmarshal([]byte(cached), &property); err == nil {
			return &property, nil
		}
	}

	property, err := s.repository.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if property == nil {
		return nil, nil
	}

	if data, err := json.Marshal(property); err == nil {
		if err := s.redis.Set(ctx, key, data, propertyCacheTTL); err != nil {
			s.logger.Debug("property cache write failed", "id", id, "error", err)
		}
	}

	return property, nil
}

func (s *PropertyService) invalidateCache(ctx context.Context, id string) {
	if err := s.redis.Del(ctx, cacheKey(id)); err != nil {
		s.logger.Warn("property cache invalidation failed", "id", id, "error", err)
	}
}

func (s *PropertyService) Create(ctx context.Context, ownerID string, in PropertyInput) (*models.Property, error) {
	owner, err := uuid.Parse(ownerID)
	if err != nil {
		return nil, ErrForbidden
	}
	if in.PropertyType == "" {
		in.PropertyType = models.PropertyTypeHouse
	}
	if err := validateProperty(in); err != nil {
		return nil, err
	}

	property := &models.Property{
		OwnerID:      owner,
		Title:        strings.TrimSpace(in.Title),
		Description:  in.Description,
		Address:      in.Address,
		City:         strings.TrimSpace(in.City),
		PropertyType: in.PropertyType,
		Price:        in.Price,
		Bedrooms:     in.Bedrooms,
		Bathrooms:    in.Bathrooms,
		AreaSqm:      in.AreaSqm,
		IsPublished:  in.IsPublished,
	}

	if err := s.repository.Create(ctx, property); err != nil {
		return nil, fmt.Errorf("failed to create property: %w", err)
	}

	return property, nil
}

func validateProperty(in PropertyInput) error {
	switch {
	case strings.TrimSpace(in.Title) == "":
		return invalid("title is required")
	case len(in.Title) > 200:
		return invalid("title must be at most 200 characters")
	case !models.ValidPropertyType(in.PropertyType):
		return invalid("unknown property type")
	case in.Price < 0:
		return invalid("price must not be negative")
	case in.Bedrooms < 0 || in.Bathrooms < 0:
		return invalid("room counts must not be negative")
	case in.AreaSqm < 0:
		return invalid("area must not be negative")
	}
	return nil
}

// Applies a partial update. Only the owner may edit.
func (s *PropertyService) Update(ctx context.Context, id, callerID string, patch PropertyPatch) (*models.Property, error) {
	property, err := s.owned(ctx, id, callerID)
	if err != nil {
		return nil, err
	}

	merged := PropertyInput{
		Title:        property.Title,
		Description:  property.Description,
		Address:      property.Address,
		City:         property.City,
		PropertyType: property.PropertyType,
		Price:        property.Price,
		Bedrooms:     property.Bedrooms,
		Bathrooms:    property.Bathrooms,
		AreaSqm:      property.AreaSqm,
		IsPublished:  property.IsPublished,
	}
	updates := make(map[string]interface{})

	if patch.Title != nil {
		merged.Title = strings.TrimSpace(*patch.Title)
		updates["title"] = merged.Title
	}
	if patch.Description != nil {
		merged.Description = *patch.Description
		updates["description"] = merged.Description
	}
	if patch.Address != nil {
		merged.Address = *patch.Address
		updates["address"] = merged.Address
	}
	if patch.City != nil {
		merged.City = strings.TrimSpace(*patch.City)
		updates["city"] = merged.City
	}
	if patch.PropertyType != nil {
		merged.PropertyType = *patch.PropertyType
		updates["property_type"] = merged.PropertyType
	}
	if patch.Price != nil {
		merged.Price = *patch.Price
		updates["price"] = merged.Price
	}
	if patch.Bedrooms != nil {
		merged.Bedrooms = *patch.Bedrooms
		updates["bedrooms"] = merged.Bedrooms
	}
	if patch.Bathrooms != nil {
		merged.Bathrooms = *patch.Bathrooms
		updates["bathrooms"] = merged.Bathrooms
	}
	if patch.AreaSqm != nil {
		merged.AreaSqm = *patch.AreaSqm
		updates["area_sqm"] = merged.AreaSqm
	}
	if patch.IsPublished != nil {
		merged.IsPublished = *patch.IsPublished
		updates["is_published"] = merged.IsPublished
	}

	if len(updates) == 0 {
		return property, nil
	}
	if err := validateProperty(merged); err != nil {
		return nil, err
	}

	if err := s.repository.Update(ctx, id, updates); err != nil {
		return nil, fmt.Errorf("failed to update property: %w", err)
	}
	s.invalidateCache(ctx, id)

	updated, err := s.repository.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, ErrNotFound
	}
	return updated, nil
}

// Removes a property. The owner or an admin may delete.
func (s *PropertyService) Delete(ctx context.Context, id, callerID string, isAdmin bool) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}

	property, err := s.repository.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if property == nil {
		return ErrNotFound
	}
	if !isAdmin && property.OwnerID.String() != callerID {
		if !property.IsPublished {
			return ErrNotFound
		}
		return ErrForbidden
	}

	if err := s.repository.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete property: %w", err)
	}
	s.invalidateCache(ctx, id)

	return nil
}

// Loads a property the caller owns. Drafts of other owners look missing.
func (s *PropertyService) owned(ctx context.Context, id, callerID string) (*models.Property, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	property, err := s.repository.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if property == nil {
		return nil, ErrNotFound
	}
	if property.OwnerID.String() != callerID {
		if !property.IsPublished {
			return nil, ErrNotFound
		}
		return nil, ErrForbidden
	}

	return property, nil
}
