package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"botchat/internal/domain"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

var messageColumns = []string{
	"m.seq", "m.id", "m.room_id", "m.sender_id", "COALESCE(u.display_name, '')", "m.message_type", "m.content",
	"m.is_read", "m.read_at", "m.is_deleted", "m.deleted_at", "m.created_at",
}

// MessageRepository implements domain.MessageRepository
type MessageRepository struct {
	*Store
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(s *Store) *MessageRepository {
	return &MessageRepository{Store: s}
}

func (r *MessageRepository) selectMessages() sq.SelectBuilder {
	return r.sb.Select(messageColumns...).
		From("messages m").
		LeftJoin("users u ON u.id = m.sender_id")
}

// Append persists message and applies the room summary and the recipient's
// unread increment in the same transaction. CreatedAt and Seq are assigned here.
func (r *MessageRepository) Append(ctx context.Context, message *domain.Message, recipient domain.Slot) error {
	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	if message.Type == "" {
		message.Type = domain.MessageText
	}

	col := unreadColumn(recipient)

	return r.tx.WithTx(ctx, func(tx *sql.Tx) error {
		now := r.now()

		// Updating the room first takes its row lock before the message row exists.
		query, args, err := r.sb.Update("chat_rooms").
			Set("last_message", message.Content).
			Set("last_message_at", now).
			Set("updated_at", now).
			Set(col, sq.Expr(col+" + 1")).
			Where(sq.Eq{"id": message.RoomID, "is_active": true}).
			ToSql()
		if err != nil {
			return fmt.Errorf("failed to build room update: %w", err)
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to update chat room: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrRoomNotFound
		}

		query, args, err = r.sb.Insert("messages").
			Columns("id", "room_id", "sender_id", "message_type", "content", "is_read", "is_deleted", "created_at").
			Values(message.ID, message.RoomID, message.SenderID, message.Type, message.Content, false, false, now).
			Suffix("RETURNING seq").
			ToSql()
		if err != nil {
			return fmt.Errorf("failed to build insert: %w", err)
		}
		if err := tx.QueryRowContext(ctx, query, args...).Scan(&message.Seq); err != nil {
			return fmt.Errorf("failed to create message: %w", err)
		}

		message.CreatedAt = now
		message.Read = false
		message.ReadAt = nil
		message.Deleted = false
		message.DeletedAt = nil
		return nil
	})
}

// GetByID retrieves a message by ID, including deleted ones
func (r *MessageRepository) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	return r.getOne(ctx, r.db, id)
}

func (r *MessageRepository) getOne(ctx context.Context, q querier, id string) (*domain.Message, error) {
	query, args, err := r.selectMessages().Where(sq.Eq{"m.id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select: %w", err)
	}

	msg, err := scanMessage(q.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, domain.ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return msg, nil
}

// ListByRoom returns one page of non-deleted history, newest first
func (r *MessageRepository) ListByRoom(ctx context.Context, roomID string, page domain.Page) ([]*domain.Message, error) {
	return r.list(ctx, r.selectMessages().
		Where(sq.Eq{"m.room_id": roomID, "m.is_deleted": false}).
		OrderBy("m.created_at DESC", "m.seq DESC").
		Limit(uint64(page.Size)).
		Offset(uint64(page.Offset())))
}

// ListSince returns non-deleted messages created after since, oldest first
func (r *MessageRepository) ListSince(ctx context.Context, roomID string, since time.Time, page domain.Page) ([]*domain.Message, error) {
	return r.list(ctx, r.selectMessages().
		Where(sq.Eq{"m.room_id": roomID, "m.is_deleted": false}).
		Where(sq.Gt{"m.created_at": since.UTC()}).
		OrderBy("m.created_at ASC", "m.seq ASC").
		Limit(uint64(page.Size)).
		Offset(uint64(page.Offset())))
}

func unreadFor(roomID, readerID string) sq.And {
	return sq.And{
		sq.Eq{"m.room_id": roomID, "m.is_read": false, "m.is_deleted": false},
		sq.NotEq{"m.sender_id": readerID},
	}
}

// ListUnread returns messages readerID has not read yet, oldest first
func (r *MessageRepository) ListUnread(ctx context.Context, roomID, readerID string) ([]*domain.Message, error) {
	return r.list(ctx, r.selectMessages().
		Where(unreadFor(roomID, readerID)).
		OrderBy("m.created_at ASC", "m.seq ASC"))
}

// CountUnread counts messages readerID has not read yet
func (r *MessageRepository) CountUnread(ctx context.Context, roomID, readerID string) (int64, error) {
	query, args, err := r.sb.Select("COUNT(*)").From("messages m").Where(unreadFor(roomID, readerID)).ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build count: %w", err)
	}

	var n int64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count unread: %w", err)
	}
	return n, nil
}

func (r *MessageRepository) list(ctx context.Context, q sq.SelectBuilder) ([]*domain.Message, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*domain.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return messages, nil
}

// MarkRead sets the read flag once and takes the message off the reader's
// counter. The boolean reports whether this call flipped the flag.
func (r *MessageRepository) MarkRead(ctx context.Context, id string, reader domain.Slot, at time.Time) (*domain.Message, bool, error) {
	var (
		result  *domain.Message
		changed bool
	)
	err := r.lockedMessageTx(ctx, id, func(tx *sql.Tx, msg *domain.Message) error {
		result = msg
		if msg.Read {
			return nil
		}

		query, args, err := r.sb.Update("messages").
			Set("is_read", true).
			Set("read_at", at).
			Where(sq.Eq{"id": id, "is_read": false}).
			ToSql()
		if err != nil {
			return fmt.Errorf("failed to build update: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to mark message read: %w", err)
		}

		if !msg.Deleted {
			if err := r.decrementUnread(ctx, tx, msg.RoomID, reader); err != nil {
				return err
			}
		}

		msg.MarkRead(at)
		changed = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, changed, nil
}

// SoftDelete tombstones a message. Deleting an unread message takes it off
// the recipient's counter. The boolean reports whether this call deleted it.
func (r *MessageRepository) SoftDelete(ctx context.Context, id string, recipient domain.Slot, at time.Time) (*domain.Message, bool, error) {
	var (
		result  *domain.Message
		changed bool
	)
	err := r.lockedMessageTx(ctx, id, func(tx *sql.Tx, msg *domain.Message) error {
		result = msg
		if msg.Deleted {
			return nil
		}

		query, args, err := r.sb.Update("messages").
			Set("is_deleted", true).
			Set("deleted_at", at).
			Set("content", domain.DeletedPlaceholder).
			Where(sq.Eq{"id": id, "is_deleted": false}).
			ToSql()
		if err != nil {
			return fmt.Errorf("failed to build update: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to delete message: %w", err)
		}

		if !msg.Read {
			if err := r.decrementUnread(ctx, tx, msg.RoomID, recipient); err != nil {
				return err
			}
		}

		msg.Delete(at)
		changed = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, changed, nil
}

// lockedMessageTx runs fn with the message's room locked and the message
// state re-read under that lock
func (r *MessageRepository) lockedMessageTx(ctx context.Context, id string, fn func(*sql.Tx, *domain.Message) error) error {
	return r.tx.WithTx(ctx, func(tx *sql.Tx) error {
		msg, err := r.getOne(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := r.lockRoom(ctx, tx, msg.RoomID); err != nil {
			if errors.Is(err, errRoomGone) {
				return domain.ErrRoomNotFound
			}
			return err
		}
		// Re-read under the lock; the first read only located the room.
		if r.driver == DriverPostgres {
			if msg, err = r.getOne(ctx, tx, id); err != nil {
				return err
			}
		}
		return fn(tx, msg)
	})
}

func (r *MessageRepository) decrementUnread(ctx context.Context, tx querier, roomID string, slot domain.Slot) error {
	col := unreadColumn(slot)
	query, args, err := r.sb.Update("chat_rooms").
		Set(col, sq.Expr(fmt.Sprintf("CASE WHEN %s > 0 THEN %s - 1 ELSE 0 END", col, col))).
		Where(sq.Eq{"id": roomID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build counter update: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to decrement unread: %w", err)
	}
	return nil
}

// MarkAllRead resets the reader's counter and marks every unread message from
// the other participant as read, as one transaction. It returns the number of
// messages marked.
func (r *MessageRepository) MarkAllRead(ctx context.Context, roomID, readerID string, reader domain.Slot, at time.Time) (int64, error) {
	var marked int64
	err := r.tx.WithTx(ctx, func(tx *sql.Tx) error {
		// Counter first, so concurrent Appends queue behind this row lock.
		query, args, err := r.sb.Update("chat_rooms").
			Set(unreadColumn(reader), 0).
			Where(sq.Eq{"id": roomID, "is_active": true}).
			ToSql()
		if err != nil {
			return fmt.Errorf("failed to build counter reset: %w", err)
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to reset unread: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrRoomNotFound
		}

		query, args, err = r.sb.Update("messages").
			Set("is_read", true).
			Set("read_at", at).
			Where(sq.Eq{"room_id": roomID, "is_read": false, "is_deleted": false}).
			Where(sq.NotEq{"sender_id": readerID}).
			ToSql()
		if err != nil {
			return fmt.Errorf("failed to build bulk update: %w", err)
		}
		res, err = tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to mark messages read: %w", err)
		}
		marked, _ = res.RowsAffected()
		return nil
	})
	return marked, err
}

func scanMessage(row rowScanner) (*domain.Message, error) {
	var (
		msg       domain.Message
		readAt    sql.NullTime
		deletedAt sql.NullTime
	)
	err := row.Scan(
		&msg.Seq,
		&msg.ID,
		&msg.RoomID,
		&msg.SenderID,
		&msg.SenderName,
		&msg.Type,
		&msg.Content,
		&msg.Read,
		&readAt,
		&msg.Deleted,
		&deletedAt,
		&msg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	msg.ReadAt = timePtr(readAt)
	msg.DeletedAt = timePtr(deletedAt)
	return &msg, nil
}
