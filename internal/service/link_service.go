package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/zhejian/url-shortener/shortlink/internal/model"
	"github.com/zhejian/url-shortener/shortlink/internal/repository"
)

// LinkService serves owner-only listing, metadata and deletion.
//
// Deletes go through store so a cached redirect entry is invalidated.
// Metadata reads go through reader, which should bypass the cache so click
// counts are current.
type LinkService struct {
	store   repository.LinkStore
	reader  LinkReader
	baseURL string
	opts    options
}

func NewLinkService(store repository.LinkStore, reader LinkReader, baseURL string, opts ...Option) *LinkService {
	return &LinkService{
		store:   store,
		reader:  reader,
		baseURL: baseURL,
		opts:    newOptions(opts),
	}
}

// ListByOwner returns ownerID's links, newest first.
func (s *LinkService) ListByOwner(ctx context.Context, ownerID string) ([]*model.ShortLink, error) {
	links, err := s.store.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	for _, l := range links {
		l.ShortURL = shortURL(s.baseURL, l.Code)
	}
	return links, nil
}

// Get returns a link's metadata to its owner.
func (s *LinkService) Get(ctx context.Context, code, ownerID string) (*model.ShortLink, error) {
	if !plausibleCode(code) {
		return nil, ErrNotFound
	}

	link, err := s.reader.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lookup %s: %w", code, err)
	}
	if !link.OwnedBy(ownerID) {
		return nil, ErrForbidden
	}

	link.ShortURL = shortURL(s.baseURL, link.Code)
	return link, nil
}

// Delete removes a link when ownerID owns it. Anonymous links cannot be deleted.
func (s *LinkService) Delete(ctx context.Context, code, ownerID string) error {
	if !plausibleCode(code) {
		return ErrNotFound
	}

	err := s.store.Delete(ctx, code, ownerID)
	switch {
	case err == nil:
		s.opts.logger.InfoContext(ctx, "link deleted",
			slog.String("short_code", code),
			slog.String("owner_id", ownerID),
		)
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, repository.ErrForbidden):
		return ErrForbidden
	default:
		return fmt.Errorf("delete %s: %w", code, err)
	}
}
