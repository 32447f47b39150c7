// Package testutil provides shared test utilities, mocks, and fixtures
// for the botchat packages.
package testutil

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"botchat/internal/completion"
	"botchat/internal/domain"
	"botchat/internal/repository/sqlstore"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

// ErrMockFailure is a generic injected failure
var ErrMockFailure = errors.New("mock: injected failure")

// Repositories is a real store on a private in-memory SQLite database
type Repositories struct {
	Store    *sqlstore.Store
	Users    *sqlstore.UserRepository
	Rooms    *sqlstore.ChatRoomRepository
	Messages *sqlstore.MessageRepository
}

// NewRepositories opens a migrated in-memory store closed at test cleanup
func NewRepositories(t *testing.T) *Repositories {
	t.Helper()

	db, err := sql.Open(sqlstore.DriverSQLite, ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store, err := sqlstore.New(context.Background(), db, sqlstore.DriverSQLite)
	require.NoError(t, err)

	return &Repositories{
		Store:    store,
		Users:    sqlstore.NewUserRepository(store),
		Rooms:    sqlstore.NewChatRoomRepository(store),
		Messages: sqlstore.NewMessageRepository(store),
	}
}

// MockUserRepository wraps a domain.UserRepository. Set a XxxFunc field to
// override one method; everything else reaches the wrapped repository.
type MockUserRepository struct {
	domain.UserRepository

	CreateFunc  func(ctx context.Context, user *domain.User) error
	GetByIDFunc func(ctx context.Context, id string) (*domain.User, error)

	getByIDCalls atomic.Int64
}

func NewMockUserRepository(inner domain.UserRepository) *MockUserRepository {
	return &MockUserRepository{UserRepository: inner}
}

func (m *MockUserRepository) Create(ctx context.Context, user *domain.User) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, user)
	}
	return m.UserRepository.Create(ctx, user)
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	m.getByIDCalls.Add(1)
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return m.UserRepository.GetByID(ctx, id)
}

// GetByIDCalls returns how many times GetByID ran
func (m *MockUserRepository) GetByIDCalls() int64 {
	return m.getByIDCalls.Load()
}

// MockChatRoomRepository wraps a domain.ChatRoomRepository with overrides
type MockChatRoomRepository struct {
	domain.ChatRoomRepository

	FindOrCreateFunc    func(ctx context.Context, room *domain.ChatRoom) (*domain.ChatRoom, bool, error)
	GetByIDFunc         func(ctx context.Context, id string) (*domain.ChatRoom, error)
	ListActiveFunc      func(ctx context.Context) ([]*domain.ChatRoom, error)
	ReconcileUnreadFunc func(ctx context.Context, roomID string, slot domain.Slot, repair bool) (*domain.UnreadDrift, error)
}

func NewMockChatRoomRepository(inner domain.ChatRoomRepository) *MockChatRoomRepository {
	return &MockChatRoomRepository{ChatRoomRepository: inner}
}

func (m *MockChatRoomRepository) FindOrCreate(ctx context.Context, room *domain.ChatRoom) (*domain.ChatRoom, bool, error) {
	if m.FindOrCreateFunc != nil {
		return m.FindOrCreateFunc(ctx, room)
	}
	return m.ChatRoomRepository.FindOrCreate(ctx, room)
}

func (m *MockChatRoomRepository) GetByID(ctx context.Context, id string) (*domain.ChatRoom, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return m.ChatRoomRepository.GetByID(ctx, id)
}

func (m *MockChatRoomRepository) ListActive(ctx context.Context) ([]*domain.ChatRoom, error) {
	if m.ListActiveFunc != nil {
		return m.ListActiveFunc(ctx)
	}
	return m.ChatRoomRepository.ListActive(ctx)
}

func (m *MockChatRoomRepository) ReconcileUnread(ctx context.Context, roomID string, slot domain.Slot, repair bool) (*domain.UnreadDrift, error) {
	if m.ReconcileUnreadFunc != nil {
		return m.ReconcileUnreadFunc(ctx, roomID, slot, repair)
	}
	return m.ChatRoomRepository.ReconcileUnread(ctx, roomID, slot, repair)
}

// MockMessageRepository wraps a domain.MessageRepository with overrides
type MockMessageRepository struct {
	domain.MessageRepository

	AppendFunc      func(ctx context.Context, message *domain.Message, recipient domain.Slot) error
	GetByIDFunc     func(ctx context.Context, id string) (*domain.Message, error)
	MarkAllReadFunc func(ctx context.Context, roomID, readerID string, reader domain.Slot, at time.Time) (int64, error)
}

func NewMockMessageRepository(inner domain.MessageRepository) *MockMessageRepository {
	return &MockMessageRepository{MessageRepository: inner}
}

func (m *MockMessageRepository) Append(ctx context.Context, message *domain.Message, recipient domain.Slot) error {
	if m.AppendFunc != nil {
		return m.AppendFunc(ctx, message, recipient)
	}
	return m.MessageRepository.Append(ctx, message, recipient)
}

func (m *MockMessageRepository) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return m.MessageRepository.GetByID(ctx, id)
}

func (m *MockMessageRepository) MarkAllRead(ctx context.Context, roomID, readerID string, reader domain.Slot, at time.Time) (int64, error) {
	if m.MarkAllReadFunc != nil {
		return m.MarkAllReadFunc(ctx, roomID, readerID, reader, at)
	}
	return m.MessageRepository.MarkAllRead(ctx, roomID, readerID, reader, at)
}

// PublishedEvent records one Publish call
type PublishedEvent struct {
	ChannelKey string
	Event      domain.RoomEvent
}

// RecordingPublisher captures published room events
type RecordingPublisher struct {
	mu sync.RWMutex

	PublishFunc func(ctx context.Context, channelKey string, event domain.RoomEvent) error

	events []PublishedEvent
}

func NewRecordingPublisher() *RecordingPublisher {
	return &RecordingPublisher{}
}

func (p *RecordingPublisher) Publish(ctx context.Context, channelKey string, event domain.RoomEvent) error {
	if p.PublishFunc != nil {
		if err := p.PublishFunc(ctx, channelKey, event); err != nil {
			return err
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, PublishedEvent{ChannelKey: channelKey, Event: event})
	return nil
}

// Events returns all recorded events in publish order
func (p *RecordingPublisher) Events() []PublishedEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]PublishedEvent{}, p.events...)
}

// EventsOn returns the events published on one channel key
func (p *RecordingPublisher) EventsOn(channelKey string) []domain.RoomEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]domain.RoomEvent, 0)
	for _, e := range p.events {
		if e.ChannelKey == channelKey {
			out = append(out, e.Event)
		}
	}
	return out
}

// Reset clears all recorded events
func (p *RecordingPublisher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

// StubProvider is a completion.Provider with a canned answer
type StubProvider struct {
	Result *completion.Result
	Err    error

	CompleteFunc func(ctx context.Context, prompt completion.Prompt) (*completion.Result, error)

	mu      sync.Mutex
	prompts []completion.Prompt
}

// NewStubProvider answers every prompt with text, charging units
func NewStubProvider(text string, units int64) *StubProvider {
	return &StubProvider{Result: &completion.Result{Text: text, Units: units}}
}

// NewFailingProvider fails every call with err
func NewFailingProvider(err error) *StubProvider {
	return &StubProvider{Err: err}
}

func (p *StubProvider) Complete(ctx context.Context, prompt completion.Prompt) (*completion.Result, error) {
	p.mu.Lock()
	p.prompts = append(p.prompts, prompt)
	p.mu.Unlock()

	if p.CompleteFunc != nil {
		return p.CompleteFunc(ctx, prompt)
	}
	if p.Err != nil {
		return nil, p.Err
	}
	result := *p.Result
	return &result, nil
}

// Prompts returns every prompt received
func (p *StubProvider) Prompts() []completion.Prompt {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]completion.Prompt{}, p.prompts...)
}

// Calls returns the number of Complete calls
func (p *StubProvider) Calls() int {
	return len(p.Prompts())
}
