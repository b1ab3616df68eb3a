package service

import (
	"context"
	"time"

	"github.com/aman-churiwal/property-listings/internal/models"
	"github.com/aman-churiwal/property-listings/internal/repository"
)

const topN = 10

// Read side of the security audit trail plus service-wide counters for the
// admin endpoints
type SecurityService struct {
	events     *repository.SecurityEventRepository
	users      *repository.UserRepository
	properties *repository.PropertyRepository
	offers     *repository.OfferRepository
	startedAt  time.Time
}

func NewSecurityService(
	events *repository.SecurityEventRepository,
	users *repository.UserRepository,
	properties *repository.PropertyRepository,
	offers *repository.OfferRepository,
) *SecurityService {
	return &SecurityService{
		events:     events,
		users:      users,
		properties: properties,
		offers:     offers,
		startedAt:  time.Now(),
	}
}

// Holds security summary data
type SecuritySummary struct {
	From         time.Time                 `json:"from"`
	To           time.Time                 `json:"to"`
	Total        int64                     `json:"total"`
	ByKind       []repository.KindCount    `json:"by_kind"`
	TopPaths     []repository.PathCount    `json:"top_paths"`
	TopAddresses []repository.AddressCount `json:"top_addresses"`
}

// Retrieves the summary for a time range
func (s *SecurityService) Summary(ctx context.Context, from, to time.Time) (*SecuritySummary, error) {
	if from.After(to) {
		return nil, invalid("from must not be after to")
	}

	summary := &SecuritySummary{
		From:         from,
		To:           to,
		ByKind:       []repository.KindCount{},
		TopPaths:     []repository.PathCount{},
		TopAddresses: []repository.AddressCount{},
	}

	byKind, err := s.events.CountByKind(ctx, from, to)
	if err != nil {
		return nil, err
	}
	for _, k := range byKind {
		summary.Total += k.Count
	}
	if summary.Total == 0 {
		return summary, nil
	}
	summary.ByKind = byKind

	if summary.TopPaths, err = s.events.TopPaths(ctx, from, to, topN); err != nil {
		return nil, err
	}
	if summary.TopAddresses, err = s.events.TopAddresses(ctx, from, to, topN); err != nil {
		return nil, err
	}

	return summary, nil
}

var eventKinds = map[string]bool{
	models.EventBlockedPath:   true,
	models.EventRateLimited:   true,
	models.EventGateFailure:   true,
	models.EventStoreDegraded: true,
}

// Retrieves events with pagination and filtering
func (s *SecurityService) Events(ctx context.Context, filter repository.SecurityEventFilter) ([]models.SecurityEvent, int64, error) {
	if filter.Kind != "" && !eventKinds[filter.Kind] {
		return nil, 0, invalid("unknown event kind")
	}
	if filter.From.After(filter.To) {
		return nil, 0, invalid("from must not be after to")
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	filter.Limit = PageSize(filter.Limit)

	return s.events.Find(ctx, filter)
}

// Deletes events older than the retention period
func (s *SecurityService) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	return s.events.DeleteBefore(ctx, time.Now().Add(-retention))
}

type Status struct {
	Uptime     time.Duration `json:"-"`
	Users      int64         `json:"users"`
	Properties int64         `json:"properties"`
	Offers     int64         `json:"offers"`
}

func (s *SecurityService) Status(ctx context.Context) (*Status, error) {
	st := &Status{Uptime: time.Since(s.startedAt)}

	var err error
	if st.Users, err = s.users.Count(ctx); err != nil {
		return nil, err
	}
	if st.Properties, err = s.properties.Count(ctx); err != nil {
		return nil, err
	}
	if st.Offers, err = s.offers.Count(ctx); err != nil {
		return nil, err
	}

	return st, nil
}
