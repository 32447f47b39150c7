package service

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"botchat/internal/domain"
	"botchat/internal/observability"

	"github.com/google/uuid"
)

var handleRegex = regexp.MustCompile(`^[a-zA-Z0-9_.\-]{3,50}$`)

const (
	defaultUserPageSize = 20
	maxUserPageSize     = 100
)

type UserService struct {
	userRepo  domain.UserRepository
	directory *Directory
	now       func() time.Time
}

func NewUserService(userRepo domain.UserRepository, directory *Directory) *UserService {
	return &UserService{
		userRepo:  userRepo,
		directory: directory,
		now:       clock,
	}
}

func validDisplayName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > 100 {
		return "", domain.ErrInvalidDisplayName
	}
	return name, nil
}

// CreateUser registers a human participant
func (s *UserService) CreateUser(ctx context.Context, displayName, handle string) (*domain.User, error) {
	name, err := validDisplayName(displayName)
	if err != nil {
		return nil, err
	}
	handle = strings.TrimSpace(handle)
	if !handleRegex.MatchString(handle) {
		return nil, domain.ErrInvalidHandle
	}

	user := &domain.User{
		DisplayName: name,
		Handle:      handle,
		Kind:        domain.KindHuman,
		Status:      domain.StatusOffline,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}

	observability.Info(ctx, "user created", "user_id", user.ID, "handle", user.Handle)
	return user, nil
}

// CreateBot registers a bot participant with a generated handle
func (s *UserService) CreateBot(ctx context.Context, displayName string) (*domain.User, error) {
	name, err := validDisplayName(displayName)
	if err != nil {
		return nil, err
	}

	bot := &domain.User{
		DisplayName: name,
		Handle:      "bot-" + uuid.NewString(),
		Kind:        domain.KindBot,
		Status:      domain.StatusOnline,
	}
	if err := s.userRepo.Create(ctx, bot); err != nil {
		return nil, err
	}
	return bot, nil
}

func (s *UserService) Get(ctx context.Context, id string) (*domain.User, error) {
	return s.directory.Lookup(ctx, id)
}

func (s *UserService) GetByHandle(ctx context.Context, handle string) (*domain.User, error) {
	return s.userRepo.GetByHandle(ctx, handle)
}

func clampPageSize(size int) int {
	if size <= 0 {
		return defaultUserPageSize
	}
	return min(size, maxUserPageSize)
}

func (s *UserService) List(ctx context.Context, limit, offset int) ([]*domain.User, error) {
	return s.userRepo.List(ctx, clampPageSize(limit), max(offset, 0))
}

// Search matches display names and handles; a blank keyword lists users
func (s *UserService) Search(ctx context.Context, keyword string, limit int) ([]*domain.User, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return s.List(ctx, limit, 0)
	}
	return s.userRepo.Search(ctx, keyword, clampPageSize(limit))
}

// UpdateStatus validates and applies a presence change
func (s *UserService) UpdateStatus(ctx context.Context, id, status string) (*domain.User, error) {
	parsed, err := domain.ParsePresenceStatus(status)
	if err != nil {
		return nil, err
	}
	return s.SetPresence(ctx, id, parsed)
}

// SetPresence is UpdateStatus for already-typed statuses
func (s *UserService) SetPresence(ctx context.Context, id string, status domain.PresenceStatus) (*domain.User, error) {
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !user.Active {
		return nil, domain.ErrUserInactive
	}

	user.SetStatus(status, s.now())
	if err := s.userRepo.UpdateStatus(ctx, user); err != nil {
		return nil, err
	}
	s.directory.Invalidate(id)

	observability.Debug(ctx, "presence updated", "user_id", id, "status", status)
	return user, nil
}

func (s *UserService) UpdateProfile(ctx context.Context, id, displayName string) (*domain.User, error) {
	name, err := validDisplayName(displayName)
	if err != nil {
		return nil, err
	}

	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !user.Active {
		return nil, domain.ErrUserInactive
	}

	user.DisplayName = name
	user.UpdatedAt = s.now()
	if err := s.userRepo.UpdateProfile(ctx, user); err != nil {
		return nil, err
	}
	s.directory.Invalidate(id)
	return user, nil
}

// Deactivate soft-deletes a user
func (s *UserService) Deactivate(ctx context.Context, id string) error {
	if err := s.userRepo.SetActive(ctx, id, false); err != nil {
		return err
	}
	s.directory.Invalidate(id)

	observability.Info(ctx, "user deactivated", "user_id", id)
	return nil
}
