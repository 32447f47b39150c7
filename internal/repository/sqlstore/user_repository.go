package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"botchat/internal/domain"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

var userColumns = []string{
	"id", "display_name", "handle", "status", "kind", "is_active", "last_seen_at", "created_at", "updated_at",
}

// UserRepository implements domain.UserRepository
type UserRepository struct {
	*Store
}

// NewUserRepository creates a new user repository
func NewUserRepository(s *Store) *UserRepository {
	return &UserRepository{Store: s}
}

// Create inserts a new user, assigning id and timestamps
func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.Status == "" {
		user.Status = domain.StatusOffline
	}
	if user.Kind == "" {
		user.Kind = domain.KindHuman
	}
	now := r.now()
	user.CreatedAt = now
	user.UpdatedAt = now
	user.Active = true

	query, args, err := r.sb.Insert("users").
		Columns(userColumns...).
		Values(user.ID, user.DisplayName, user.Handle, user.Status, user.Kind, user.Active,
			nullTime(user.LastSeenAt), user.CreatedAt, user.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		if IsUniqueViolation(err) {
			return domain.ErrHandleExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.getOne(ctx, sq.Eq{"id": id})
}

// GetByHandle retrieves a user by contact handle
func (r *UserRepository) GetByHandle(ctx context.Context, handle string) (*domain.User, error) {
	return r.getOne(ctx, sq.Eq{"handle": handle})
}

func (r *UserRepository) getOne(ctx context.Context, pred sq.Sqlizer) (*domain.User, error) {
	query, args, err := r.sb.Select(userColumns...).From("users").Where(pred).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select: %w", err)
	}

	user, err := scanUser(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// List returns active users ordered by creation
func (r *UserRepository) List(ctx context.Context, limit, offset int) ([]*domain.User, error) {
	return r.list(ctx, r.sb.Select(userColumns...).From("users").
		Where(sq.Eq{"is_active": true}).
		OrderBy("created_at ASC", "id ASC").
		Limit(uint64(limit)).
		Offset(uint64(offset)))
}

// Search matches active users by display name or handle, case-insensitively
func (r *UserRepository) Search(ctx context.Context, keyword string, limit int) ([]*domain.User, error) {
	pattern := "%" + strings.ToLower(keyword) + "%"
	return r.list(ctx, r.sb.Select(userColumns...).From("users").
		Where(sq.Eq{"is_active": true}).
		Where(sq.Or{
			sq.Like{"LOWER(display_name)": pattern},
			sq.Like{"LOWER(handle)": pattern},
		}).
		OrderBy("display_name ASC").
		Limit(uint64(limit)))
}

func (r *UserRepository) list(ctx context.Context, q sq.SelectBuilder) ([]*domain.User, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	users := make([]*domain.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}
	return users, nil
}

// UpdateStatus persists presence status and last-seen time
func (r *UserRepository) UpdateStatus(ctx context.Context, user *domain.User) error {
	return r.update(ctx, user.ID, map[string]any{
		"status":       user.Status,
		"last_seen_at": nullTime(user.LastSeenAt),
		"updated_at":   user.UpdatedAt,
	})
}

// UpdateProfile persists the display name
func (r *UserRepository) UpdateProfile(ctx context.Context, user *domain.User) error {
	return r.update(ctx, user.ID, map[string]any{
		"display_name": user.DisplayName,
		"updated_at":   user.UpdatedAt,
	})
}

// SetActive toggles the soft-delete flag
func (r *UserRepository) SetActive(ctx context.Context, id string, active bool) error {
	return r.update(ctx, id, map[string]any{
		"is_active":  active,
		"updated_at": r.now(),
	})
}

func (r *UserRepository) update(ctx context.Context, id string, fields map[string]any) error {
	query, args, err := r.sb.Update("users").SetMap(fields).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var (
		user     domain.User
		lastSeen sql.NullTime
	)
	err := row.Scan(
		&user.ID,
		&user.DisplayName,
		&user.Handle,
		&user.Status,
		&user.Kind,
		&user.Active,
		&lastSeen,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	user.LastSeenAt = timePtr(lastSeen)
	return &user, nil
}
