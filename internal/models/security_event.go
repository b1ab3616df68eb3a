package models

import (
	"time"
)

// Kinds of security events recorded by the admission gate
const (
	EventBlockedPath   = "blocked_path"
	EventRateLimited   = "rate_limited"
	EventGateFailure   = "gate_failure"
	EventStoreDegraded = "store_unavailable"
)

// Represents a request rejected by the admission gate
type SecurityEvent struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Kind        string    `gorm:"index;not null" json:"kind"`
	Method      string    `json:"method"`
	Path        string    `gorm:"index" json:"path"`
	DecodedPath string    `json:"decoded_path,omitempty"`
	IPAddress   string    `gorm:"index" json:"ip_address"`
	UserAgent   string    `json:"user_agent"`
	Rule        string    `json:"rule,omitempty"`
	RequestID   string    `json:"request_id,omitempty"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
}

func (SecurityEvent) TableName() string {
	return "security_events"
}
