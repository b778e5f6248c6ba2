package service

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"
	"github.com/zhejian/url-shortener/shortlink/internal/model"
)

type MockLinkStore struct {
	mock.Mock
}

func (m *MockLinkStore) Create(ctx context.Context, link *model.ShortLink) error {
	args := m.Called(ctx, link)
	return args.Error(0)
}

func (m *MockLinkStore) GetByCode(ctx context.Context, code string) (*model.ShortLink, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ShortLink), args.Error(1)
}

func (m *MockLinkStore) Exists(ctx context.Context, code string) (bool, error) {
	args := m.Called(ctx, code)
	return args.Bool(0), args.Error(1)
}

func (m *MockLinkStore) IncrementClicks(ctx context.Context, code string) error {
	args := m.Called(ctx, code)
	return args.Error(0)
}

func (m *MockLinkStore) ListByOwner(ctx context.Context, ownerID string) ([]*model.ShortLink, error) {
	args := m.Called(ctx, ownerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.ShortLink), args.Error(1)
}

func (m *MockLinkStore) Delete(ctx context.Context, code, ownerID string) error {
	args := m.Called(ctx, code, ownerID)
	return args.Error(0)
}

type MockAdmitter struct {
	mock.Mock
}

func (m *MockAdmitter) Admit(ctx context.Context, clientKey string) (model.Decision, error) {
	args := m.Called(ctx, clientKey)
	return args.Get(0).(model.Decision), args.Error(1)
}

type MockAllocator struct {
	mock.Mock
}

func (m *MockAllocator) Allocate(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

// spyRecorder remembers recorded codes.
type spyRecorder struct {
	mu    sync.Mutex
	codes []string
}

func (s *spyRecorder) Record(_ context.Context, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes = append(s.codes, code)
}

func (s *spyRecorder) recorded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.codes...)
}

func allow(remaining int) model.Decision {
	return model.Decision{Allowed: true, Limit: 10, Remaining: remaining}
}

func strPtr(s string) *string { return &s }
