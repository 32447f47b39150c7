package service

import (
	"context"
	"errors"
	"time"

	"botchat/internal/budget"
	"botchat/internal/domain"
	"botchat/internal/observability"
)

const (
	defaultHistorySize = 50
	maxHistorySize     = 100
)

// Budget is the per-room ledger of provider spend
type Budget interface {
	CheckAndReserve(roomID string) budget.Reservation
	Commit(roomID string, units int64) budget.Commitment
	Usage(roomID string) budget.Snapshot
}

// clock matches the precision the stores keep
func clock() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

type ChatService struct {
	roomRepo    domain.ChatRoomRepository
	messageRepo domain.MessageRepository
	users       *UserService
	budget      Budget
	botName     string
	now         func() time.Time
}

func NewChatService(
	roomRepo domain.ChatRoomRepository,
	messageRepo domain.MessageRepository,
	users *UserService,
	tracker Budget,
	botName string,
) *ChatService {
	return &ChatService{
		roomRepo:    roomRepo,
		messageRepo: messageRepo,
		users:       users,
		budget:      tracker,
		botName:     botName,
		now:         clock,
	}
}

// CreateRoom opens a room between humanID and a bot created for it.
// The boolean reports whether a new room row was inserted.
func (s *ChatService) CreateRoom(ctx context.Context, humanID string) (*domain.ChatRoom, bool, error) {
	human, err := s.users.Get(ctx, humanID)
	if err != nil {
		return nil, false, err
	}
	if !human.Active {
		return nil, false, domain.ErrUserInactive
	}
	if human.IsBot() {
		return nil, false, domain.ErrBotCannotOpenRoom
	}

	bot, err := s.users.CreateBot(ctx, s.botName)
	if err != nil {
		return nil, false, err
	}

	room, err := domain.NewChatRoom(human.ID, bot.ID)
	if err != nil {
		return nil, false, err
	}
	room, created, err := s.roomRepo.FindOrCreate(ctx, room)
	if err != nil {
		return nil, false, err
	}

	observability.Info(ctx, "chat room opened", "room_id", room.ID, "user_id", human.ID, "bot_id", bot.ID)
	return room, created, nil
}

// GetRoom returns an active room the user takes part in
func (s *ChatService) GetRoom(ctx context.Context, roomID, userID string) (*domain.ChatRoom, error) {
	room, err := s.roomRepo.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.IsParticipant(userID) {
		return nil, domain.ErrNotParticipant
	}
	return room, nil
}

func (s *ChatService) ListRooms(ctx context.Context, userID string) ([]*domain.ChatRoom, error) {
	return s.roomRepo.ListByParticipant(ctx, userID)
}

func (s *ChatService) ListUnreadRooms(ctx context.Context, userID string) ([]*domain.ChatRoom, error) {
	return s.roomRepo.ListWithUnread(ctx, userID)
}

func (s *ChatService) TotalUnread(ctx context.Context, userID string) (int64, error) {
	return s.roomRepo.TotalUnread(ctx, userID)
}

// CloseRoom deactivates a room on behalf of one of its participants. The
// pair may open a new room afterwards.
func (s *ChatService) CloseRoom(ctx context.Context, roomID, userID string) error {
	if _, err := s.GetRoom(ctx, roomID, userID); err != nil {
		return err
	}
	if err := s.roomRepo.Deactivate(ctx, roomID); err != nil {
		return err
	}
	observability.Info(ctx, "chat room closed", "room_id", roomID, "user_id", userID)
	return nil
}

// ResetUnread clears the caller's counter. Messages are marked read along
// with it so the counter keeps matching message state.
func (s *ChatService) ResetUnread(ctx context.Context, roomID, userID string) error {
	_, err := s.MarkAllRead(ctx, roomID, userID)
	return err
}

func (s *ChatService) BudgetSnapshot(ctx context.Context, roomID, userID string) (budget.Snapshot, error) {
	if _, err := s.GetRoom(ctx, roomID, userID); err != nil {
		return budget.Snapshot{}, err
	}
	return s.budget.Usage(roomID), nil
}

func normalizePage(page domain.Page) domain.Page {
	if page.Number < 0 {
		page.Number = 0
	}
	if page.Size <= 0 {
		page.Size = defaultHistorySize
	}
	page.Size = min(page.Size, maxHistorySize)
	return page
}

// GetMessages returns one page of history, newest first
func (s *ChatService) GetMessages(ctx context.Context, roomID, userID string, page domain.Page) ([]*domain.Message, error) {
	if _, err := s.GetRoom(ctx, roomID, userID); err != nil {
		return nil, err
	}
	return s.messageRepo.ListByRoom(ctx, roomID, normalizePage(page))
}

// GetMessagesSince returns messages newer than since, oldest first
func (s *ChatService) GetMessagesSince(ctx context.Context, roomID, userID string, since time.Time, page domain.Page) ([]*domain.Message, error) {
	if _, err := s.GetRoom(ctx, roomID, userID); err != nil {
		return nil, err
	}
	return s.messageRepo.ListSince(ctx, roomID, since, normalizePage(page))
}

func (s *ChatService) GetUnreadMessages(ctx context.Context, roomID, userID string) ([]*domain.Message, error) {
	if _, err := s.GetRoom(ctx, roomID, userID); err != nil {
		return nil, err
	}
	return s.messageRepo.ListUnread(ctx, roomID, userID)
}

func (s *ChatService) CountUnread(ctx context.Context, roomID, userID string) (int64, error) {
	if _, err := s.GetRoom(ctx, roomID, userID); err != nil {
		return 0, err
	}
	return s.messageRepo.CountUnread(ctx, roomID, userID)
}

// MarkRead marks one message read by its recipient. Marking again returns
// the message unchanged.
func (s *ChatService) MarkRead(ctx context.Context, messageID, readerID string) (*domain.Message, error) {
	msg, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	room, err := s.roomRepo.GetByID(ctx, msg.RoomID)
	if err != nil {
		return nil, err
	}
	slot, err := room.SlotOf(readerID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID == readerID {
		return nil, domain.ErrSenderCannotReadOwnMessage
	}

	msg, _, err = s.messageRepo.MarkRead(ctx, messageID, slot, s.now())
	return msg, err
}

// MarkAllRead marks everything the other participant sent as read and
// zeroes the reader's counter
func (s *ChatService) MarkAllRead(ctx context.Context, roomID, readerID string) (int64, error) {
	room, err := s.GetRoom(ctx, roomID, readerID)
	if err != nil {
		return 0, err
	}
	slot, err := room.ResetUnread(readerID)
	if err != nil {
		return 0, err
	}
	return s.messageRepo.MarkAllRead(ctx, roomID, readerID, slot, s.now())
}

// DeleteMessage tombstones a message on behalf of its sender
func (s *ChatService) DeleteMessage(ctx context.Context, messageID, requesterID string) (*domain.Message, error) {
	msg, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != requesterID {
		return nil, domain.ErrNotSender
	}
	room, err := s.roomRepo.GetByID(ctx, msg.RoomID)
	if err != nil {
		return nil, err
	}
	slot, err := room.SlotOf(requesterID)
	if err != nil {
		return nil, err
	}

	msg, deleted, err := s.messageRepo.SoftDelete(ctx, messageID, slot.Other(), s.now())
	if err != nil {
		return nil, err
	}
	if deleted {
		observability.Info(ctx, "message deleted", "message_id", messageID, "room_id", msg.RoomID)
	}
	return msg, nil
}

// AuditUnread compares every stored counter with the unread messages it
// stands for. With repair set, drifted counters are overwritten and no
// error is returned for them. Rooms closed while the audit runs are skipped.
func (s *ChatService) AuditUnread(ctx context.Context, repair bool) ([]domain.UnreadDrift, error) {
	rooms, err := s.roomRepo.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	var (
		drifts []domain.UnreadDrift
		errs   []error
	)
	for _, room := range rooms {
		for _, slot := range []domain.Slot{domain.Slot1, domain.Slot2} {
			drift, err := s.roomRepo.ReconcileUnread(ctx, room.ID, slot, repair)
			if errors.Is(err, domain.ErrRoomNotFound) {
				break
			}
			if err != nil {
				return drifts, err
			}
			if drift == nil {
				continue
			}

			drifts = append(drifts, *drift)
			observability.Warn(ctx, "unread counter drift", "room_id", drift.RoomID, "user_id", drift.UserID,
				"stored", drift.Stored, "computed", drift.Computed, "repaired", repair)
			if !repair {
				errs = append(errs, *drift)
			}
		}
	}
	return drifts, errors.Join(errs...)
}
