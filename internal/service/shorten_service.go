package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/zhejian/url-shortener/shortlink/internal/model"
	"github.com/zhejian/url-shortener/shortlink/internal/repository"
)

// Admitter decides whether a client may shorten another URL
type Admitter interface {
	Admit(ctx context.Context, clientKey string) (model.Decision, error)
}

// Allocator hands out codes that are not yet taken
type Allocator interface {
	Allocate(ctx context.Context) (string, error)
}

// LinkCreator persists new links
type LinkCreator interface {
	Create(ctx context.Context, link *model.ShortLink) error
}

// ShortenService validates, admits and stores new short links.
type ShortenService struct {
	store     LinkCreator
	allocator Allocator
	limiter   Admitter
	baseURL   string
	retryBase time.Duration
	opts      options
}

func NewShortenService(store LinkCreator, allocator Allocator, limiter Admitter, baseURL string, opts ...Option) *ShortenService {
	return &ShortenService{
		store:     store,
		allocator: allocator,
		limiter:   limiter,
		baseURL:   baseURL,
		retryBase: 50 * time.Millisecond,
		opts:      newOptions(opts),
	}
}

// Shorten creates a link for req.URL on behalf of req.ClientKey.
func (s *ShortenService) Shorten(ctx context.Context, req model.ShortenRequest) (*model.ShortenResult, error) {
	target := strings.TrimSpace(req.URL)
	if err := validateTarget(target); err != nil {
		s.opts.metrics.Shorten(ctx, "invalid")
		return nil, err
	}
	if err := ValidateExpiry(req.ExpiresIn); err != nil {
		s.opts.metrics.Shorten(ctx, "invalid")
		return nil, err
	}

	decision, err := s.limiter.Admit(ctx, req.ClientKey)
	if err != nil {
		s.opts.metrics.Shorten(ctx, "error")
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	if !decision.Allowed {
		s.opts.metrics.Shorten(ctx, "rate_limited")
		return nil, &RateLimitedError{Limit: decision.Limit, ResetAt: decision.ResetAt}
	}

	var expiresAt *time.Time
	if req.ExpiresIn > 0 {
		t := s.opts.now().Add(req.ExpiresIn)
		expiresAt = &t
	}

	// A conflict means another writer took the code between the existence
	// check and the insert. Allocate once more, then give up.
	for attempt := 0; attempt < 2; attempt++ {
		code, err := s.allocator.Allocate(ctx)
		if err != nil {
			s.opts.metrics.Shorten(ctx, outcomeOf(err))
			return nil, err
		}

		link := &model.ShortLink{
			Code:      code,
			TargetURL: target,
			OwnerID:   req.OwnerID,
			ExpiresAt: expiresAt,
		}
		err = s.create(ctx, link)
		if err == nil {
			link.ShortURL = shortURL(s.baseURL, link.Code)
			s.opts.metrics.Shorten(ctx, "created")
			return &model.ShortenResult{
				Link:               link,
				RateLimitLimit:     decision.Limit,
				RateLimitRemaining: decision.Remaining,
				RateLimitResetAt:   decision.ResetAt,
			}, nil
		}
		if !errors.Is(err, repository.ErrCodeConflict) {
			s.opts.metrics.Shorten(ctx, "error")
			return nil, fmt.Errorf("store link: %w", err)
		}

		s.opts.metrics.AllocationCollision(ctx)
		s.opts.logger.WarnContext(ctx, "short code taken at insert", slog.String("short_code", code))
	}

	s.opts.metrics.AllocationExhausted(ctx)
	s.opts.metrics.Shorten(ctx, "exhausted")
	s.opts.logger.ErrorContext(ctx, "short code conflicts persisted after re-allocation")
	return nil, ErrAllocationExhausted
}

// create retries a failed write once. Conflicts are returned unretried.
func (s *ShortenService) create(ctx context.Context, link *model.ShortLink) error {
	backoff := retry.WithMaxRetries(1, retry.NewExponential(s.retryBase))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := s.store.Create(ctx, link)
		if err == nil || errors.Is(err, repository.ErrCodeConflict) {
			return err
		}
		s.opts.logger.WarnContext(ctx, "link write failed",
			slog.String("short_code", link.Code),
			slog.String("error", err.Error()),
		)
		return retry.RetryableError(err)
	})
}

func validateTarget(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidURL, raw)
	}
	if !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: scheme must be http or https", ErrInvalidURL)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidURL)
	}
	return nil
}

// ValidateExpiry accepts zero (never expires) up to MaxExpiry.
func ValidateExpiry(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("%w: expires_in must be positive", ErrInvalidExpiry)
	}
	if d > MaxExpiry {
		return fmt.Errorf("%w: expires_in must not exceed %d seconds", ErrInvalidExpiry, int64(MaxExpiry/time.Second))
	}
	return nil
}

// ExpiryFromSeconds converts an expires_in value without overflowing time.Duration.
func ExpiryFromSeconds(seconds int64) (time.Duration, error) {
	if seconds < 0 {
		return 0, ValidateExpiry(-time.Second)
	}
	if seconds > int64(MaxExpiry/time.Second) {
		return 0, ValidateExpiry(MaxExpiry + time.Second)
	}
	return time.Duration(seconds) * time.Second, nil
}

func outcomeOf(err error) string {
	if errors.Is(err, ErrAllocationExhausted) {
		return "exhausted"
	}
	return "error"
}
