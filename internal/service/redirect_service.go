package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/zhejian/url-shortener/shortlink/internal/clicks"
	"github.com/zhejian/url-shortener/shortlink/internal/model"
	"github.com/zhejian/url-shortener/shortlink/internal/repository"
)

// maxCodeLen matches the short_code column width.
const maxCodeLen = 32

// LinkReader looks links up by code
type LinkReader interface {
	GetByCode(ctx context.Context, code string) (*model.ShortLink, error)
}

// RedirectService resolves codes on the hot path and counts clicks.
type RedirectService struct {
	store    LinkReader
	recorder clicks.Recorder
	baseURL  string
	opts     options
}

func NewRedirectService(store LinkReader, recorder clicks.Recorder, baseURL string, opts ...Option) *RedirectService {
	return &RedirectService{
		store:    store,
		recorder: recorder,
		baseURL:  baseURL,
		opts:     newOptions(opts),
	}
}

// Resolve returns the active link for code and records a click for it.
// Unknown and expired codes are reported separately.
func (s *RedirectService) Resolve(ctx context.Context, code string) (*model.ShortLink, error) {
	if !plausibleCode(code) {
		s.opts.metrics.Redirect(ctx, "not_found")
		return nil, ErrNotFound
	}

	link, err := s.store.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.opts.metrics.Redirect(ctx, "not_found")
			return nil, ErrNotFound
		}
		s.opts.metrics.Redirect(ctx, "error")
		return nil, fmt.Errorf("lookup %s: %w", code, err)
	}

	if link.IsExpired(s.opts.now()) {
		s.opts.metrics.Redirect(ctx, "expired")
		return nil, ErrExpired
	}

	s.recorder.Record(ctx, code)
	s.opts.metrics.Redirect(ctx, "found")

	link.ShortURL = shortURL(s.baseURL, link.Code)
	return link, nil
}

// plausibleCode rejects strings that could never have been issued.
func plausibleCode(code string) bool {
	if code == "" || len(code) > maxCodeLen {
		return false
	}
	for _, r := range code {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}
