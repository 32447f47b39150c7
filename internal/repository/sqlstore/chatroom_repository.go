package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"botchat/internal/domain"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

var roomColumns = []string{
	"id", "user1_id", "user2_id", "last_message", "last_message_at",
	"user1_unread", "user2_unread", "is_active", "created_at", "updated_at",
}

// ChatRoomRepository implements domain.ChatRoomRepository
type ChatRoomRepository struct {
	*Store
}

// NewChatRoomRepository creates a new chat room repository
func NewChatRoomRepository(s *Store) *ChatRoomRepository {
	return &ChatRoomRepository{Store: s}
}

func unreadColumn(slot domain.Slot) string {
	if slot == domain.Slot1 {
		return "user1_unread"
	}
	return "user2_unread"
}

// FindOrCreate returns the active room for the pair or inserts room.
// The boolean is true when room was inserted.
func (r *ChatRoomRepository) FindOrCreate(ctx context.Context, room *domain.ChatRoom) (*domain.ChatRoom, bool, error) {
	existing, err := r.FindByParticipants(ctx, room.User1ID, room.User2ID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, domain.ErrRoomNotFound) {
		return nil, false, err
	}

	if err := r.create(ctx, room); err != nil {
		if !IsUniqueViolation(err) {
			return nil, false, err
		}
		// Lost a concurrent insert for the same pair
		existing, err := r.FindByParticipants(ctx, room.User1ID, room.User2ID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	return room, true, nil
}

func (r *ChatRoomRepository) create(ctx context.Context, room *domain.ChatRoom) error {
	if room.ID == "" {
		room.ID = uuid.NewString()
	}
	now := r.now()
	room.CreatedAt = now
	room.UpdatedAt = now
	room.Active = true

	query, args, err := r.sb.Insert("chat_rooms").
		Columns(roomColumns...).
		Values(room.ID, room.User1ID, room.User2ID, room.LastMessage, nullTime(room.LastMessageAt),
			room.User1Unread, room.User2Unread, room.Active, room.CreatedAt, room.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to create chat room: %w", err)
	}
	return nil
}

// FindByParticipants looks up the active room of an unordered pair
func (r *ChatRoomRepository) FindByParticipants(ctx context.Context, userA, userB string) (*domain.ChatRoom, error) {
	u1, u2 := domain.CanonicalPair(userA, userB)
	return r.getOne(ctx, r.db, sq.Eq{"user1_id": u1, "user2_id": u2, "is_active": true})
}

// GetByID retrieves an active room by ID
func (r *ChatRoomRepository) GetByID(ctx context.Context, id string) (*domain.ChatRoom, error) {
	return r.getOne(ctx, r.db, sq.Eq{"id": id, "is_active": true})
}

func (r *ChatRoomRepository) getOne(ctx context.Context, q querier, pred sq.Sqlizer) (*domain.ChatRoom, error) {
	query, args, err := r.sb.Select(roomColumns...).From("chat_rooms").Where(pred).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select: %w", err)
	}

	room, err := scanRoom(q.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, domain.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chat room: %w", err)
	}
	return room, nil
}

func participantOf(userID string) sq.Or {
	return sq.Or{sq.Eq{"user1_id": userID}, sq.Eq{"user2_id": userID}}
}

// ListByParticipant returns the user's active rooms, most recently updated first
func (r *ChatRoomRepository) ListByParticipant(ctx context.Context, userID string) ([]*domain.ChatRoom, error) {
	return r.list(ctx, r.sb.Select(roomColumns...).From("chat_rooms").
		Where(sq.Eq{"is_active": true}).
		Where(participantOf(userID)).
		OrderBy("updated_at DESC", "id ASC"))
}

// ListWithUnread returns the user's active rooms holding unread messages for them
func (r *ChatRoomRepository) ListWithUnread(ctx context.Context, userID string) ([]*domain.ChatRoom, error) {
	return r.list(ctx, r.sb.Select(roomColumns...).From("chat_rooms").
		Where(sq.Eq{"is_active": true}).
		Where(sq.Or{
			sq.And{sq.Eq{"user1_id": userID}, sq.Gt{"user1_unread": 0}},
			sq.And{sq.Eq{"user2_id": userID}, sq.Gt{"user2_unread": 0}},
		}).
		OrderBy("updated_at DESC", "id ASC"))
}

// ListActive returns every active room
func (r *ChatRoomRepository) ListActive(ctx context.Context) ([]*domain.ChatRoom, error) {
	return r.list(ctx, r.sb.Select(roomColumns...).From("chat_rooms").
		Where(sq.Eq{"is_active": true}).
		OrderBy("created_at ASC", "id ASC"))
}

func (r *ChatRoomRepository) list(ctx context.Context, q sq.SelectBuilder) ([]*domain.ChatRoom, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat rooms: %w", err)
	}
	defer rows.Close()

	rooms := make([]*domain.ChatRoom, 0)
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chat room: %w", err)
		}
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chat rooms: %w", err)
	}
	return rooms, nil
}

// TotalUnread sums the user's counters across active rooms
func (r *ChatRoomRepository) TotalUnread(ctx context.Context, userID string) (int64, error) {
	query, args, err := r.sb.Select().
		Column(sq.Expr("COALESCE(SUM(CASE WHEN user1_id = ? THEN user1_unread ELSE user2_unread END), 0)", userID)).
		From("chat_rooms").
		Where(sq.Eq{"is_active": true}).
		Where(participantOf(userID)).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build select: %w", err)
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum unread: %w", err)
	}
	return total, nil
}

// ReconcileUnread compares one slot's counter with the unread messages it
// stands for and, when repair is set, overwrites it with the count. The room
// row is locked first, so sends and reads of the room wait until the
// comparison and the write are done. It returns nil when they agree.
func (r *ChatRoomRepository) ReconcileUnread(ctx context.Context, roomID string, slot domain.Slot, repair bool) (*domain.UnreadDrift, error) {
	var drift *domain.UnreadDrift
	err := r.tx.WithTx(ctx, func(tx *sql.Tx) error {
		if err := r.lockRoom(ctx, tx, roomID); err != nil {
			if errors.Is(err, errRoomGone) {
				return domain.ErrRoomNotFound
			}
			return err
		}
		room, err := r.getOne(ctx, tx, sq.Eq{"id": roomID, "is_active": true})
		if err != nil {
			return err
		}

		userID := room.ParticipantAt(slot)
		query, args, err := r.sb.Select("COUNT(*)").From("messages m").Where(unreadFor(roomID, userID)).ToSql()
		if err != nil {
			return fmt.Errorf("failed to build count: %w", err)
		}
		var computed int64
		if err := tx.QueryRowContext(ctx, query, args...).Scan(&computed); err != nil {
			return fmt.Errorf("failed to count unread: %w", err)
		}

		stored := room.UnreadAt(slot)
		if int64(stored) == computed {
			return nil
		}
		drift = &domain.UnreadDrift{RoomID: roomID, UserID: userID, Slot: slot, Stored: stored, Computed: computed}
		if !repair {
			return nil
		}

		query, args, err = r.sb.Update("chat_rooms").
			Set(unreadColumn(slot), computed).
			Where(sq.Eq{"id": roomID}).
			ToSql()
		if err != nil {
			return fmt.Errorf("failed to build counter update: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to repair unread: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return drift, nil
}

// Deactivate soft-deletes a room, freeing its pair for a new room
func (r *ChatRoomRepository) Deactivate(ctx context.Context, id string) error {
	return r.exec(ctx, r.sb.Update("chat_rooms").
		Set("is_active", false).
		Set("updated_at", r.now()).
		Where(sq.Eq{"id": id, "is_active": true}))
}

func (r *ChatRoomRepository) exec(ctx context.Context, q sq.UpdateBuilder) error {
	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update chat room: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrRoomNotFound
	}
	return nil
}

func scanRoom(row rowScanner) (*domain.ChatRoom, error) {
	var (
		room          domain.ChatRoom
		lastMessageAt sql.NullTime
	)
	err := row.Scan(
		&room.ID,
		&room.User1ID,
		&room.User2ID,
		&room.LastMessage,
		&lastMessageAt,
		&room.User1Unread,
		&room.User2Unread,
		&room.Active,
		&room.CreatedAt,
		&room.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	room.LastMessageAt = timePtr(lastMessageAt)
	return &room, nil
}
