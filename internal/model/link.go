package model

import (
	"time"

	"github.com/google/uuid"
)

// ShortLink represents one code -> target mapping
type ShortLink struct {
	ID         uuid.UUID  `json:"id"`
	Code       string     `json:"code"`
	TargetURL  string     `json:"target_url"`
	OwnerID    *string    `json:"owner_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	ClickCount int64      `json:"click_count"`

	// ShortURL is computed from the configured base URL and never stored.
	ShortURL string `json:"-"`
}

// IsExpired reports whether the link is inactive at the given instant.
func (l *ShortLink) IsExpired(now time.Time) bool {
	return l.ExpiresAt != nil && !now.Before(*l.ExpiresAt)
}

// OwnedBy reports whether ownerID created the link. Anonymous links have no owner.
func (l *ShortLink) OwnedBy(ownerID string) bool {
	return l.OwnerID != nil && ownerID != "" && *l.OwnerID == ownerID
}

// Decision is the outcome of one admission check against a client's rate window
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// ShortenRequest carries everything the shorten path needs
type ShortenRequest struct {
	URL       string
	OwnerID   *string
	ClientKey string
	ExpiresIn time.Duration
}

// ShortenResult is a created link plus the caller's remaining quota
type ShortenResult struct {
	Link               *ShortLink
	RateLimitLimit     int
	RateLimitRemaining int
	RateLimitResetAt   time.Time
}

// ClickEvent is published for every successful redirect when clicks go through the broker
type ClickEvent struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	Timestamp time.Time `json:"timestamp"`
}

// CreateLinkRequest represents the request body for POST /shorten
type CreateLinkRequest struct {
	URL       string `json:"url" binding:"required"`
	ExpiresIn int64  `json:"expires_in,omitempty"` // Duration in seconds
}

// CreateLinkResponse represents the response for a created short link
type CreateLinkResponse struct {
	ShortCode          string `json:"short_code"`
	ShortURL           string `json:"short_url"`
	RateLimitRemaining int    `json:"rate_limit_remaining"`
	ExpiresAt          string `json:"expires_at,omitempty"`
}

// LinkResponse represents the link metadata shown to its owner
type LinkResponse struct {
	ShortCode  string `json:"short_code"`
	TargetURL  string `json:"target_url"`
	ShortURL   string `json:"short_url"`
	CreatedAt  string `json:"created_at"`
	ExpiresAt  string `json:"expires_at,omitempty"`
	Expired    bool   `json:"expired"`
	ClickCount int64  `json:"click_count"`
}

// LinkListResponse wraps the owner's links
type LinkListResponse struct {
	Links []LinkResponse `json:"links"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// RateLimitedResponse is returned with 429
type RateLimitedResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message,omitempty"`
	ResetTime string `json:"reset_time"`
}
