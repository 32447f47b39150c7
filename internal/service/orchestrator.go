package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"botchat/internal/completion"
	"botchat/internal/domain"
	"botchat/internal/observability"
)

// Publisher delivers room events to subscribers of a channel key
type Publisher interface {
	Publish(ctx context.Context, channelKey string, event domain.RoomEvent) error
}

// Pipeline stages, as reported in logs and metrics
const (
	stageValidated       = "validated"
	stagePersisted       = "persisted"
	stageBroadcast       = "broadcast"
	stageBudgetChecked   = "budget_checked"
	stageProviderCalled  = "provider_called"
	stageReplyPersisted  = "reply_persisted"
	stageReplyBroadcast  = "reply_broadcast"
	stageNoticePersisted = "notice_persisted"
)

const limitNoticeFormat = "This room has used its full bot budget (%d tokens). Please start a new chat room to keep chatting."

// SendRequest is one chat message submitted by a participant
type SendRequest struct {
	RoomID      string
	SenderID    string
	Content     string
	MessageType string
}

// Orchestrator runs the chat pipeline: persist and broadcast the sender's
// message, then let the room's bot answer while the room has budget left.
type Orchestrator struct {
	messageRepo domain.MessageRepository
	chat        *ChatService
	directory   *Directory
	budget      Budget
	provider    completion.Provider
	publisher   Publisher
	persona     string
	now         func() time.Time
}

func NewOrchestrator(
	messageRepo domain.MessageRepository,
	chat *ChatService,
	directory *Directory,
	tracker Budget,
	provider completion.Provider,
	publisher Publisher,
	persona string,
) *Orchestrator {
	return &Orchestrator{
		messageRepo: messageRepo,
		chat:        chat,
		directory:   directory,
		budget:      tracker,
		provider:    provider,
		publisher:   publisher,
		persona:     persona,
		now:         clock,
	}
}

func (o *Orchestrator) stage(ctx context.Context, stage, outcome string, args ...any) {
	observability.OrchestratorEvents.WithLabelValues(stage, outcome).Inc()
	observability.Debug(ctx, "pipeline stage", append([]any{"stage", stage, "outcome", outcome}, args...)...)
}

// HandleEvent dispatches a realtime event from a room participant
func (o *Orchestrator) HandleEvent(ctx context.Context, ev domain.InboundEvent) error {
	ctx = observability.WithRoomID(observability.WithUserID(ctx, ev.SenderID), ev.RoomID)

	switch ev.Type {
	case domain.EventChat:
		_, err := o.SendMessage(ctx, SendRequest{
			RoomID:      ev.RoomID,
			SenderID:    ev.SenderID,
			Content:     ev.Content,
			MessageType: string(ev.MessageType),
		})
		return err

	case domain.EventJoin, domain.EventLeave:
		sender, err := o.participant(ctx, ev.RoomID, ev.SenderID)
		if err != nil {
			return err
		}
		o.publish(ctx, domain.RoomChannel(ev.RoomID), domain.RoomEvent{
			Type:       ev.Type,
			RoomID:     ev.RoomID,
			SenderID:   sender.ID,
			SenderName: sender.DisplayName,
			Timestamp:  o.now(),
		})
		return nil

	case domain.EventRead:
		marked, err := o.chat.MarkAllRead(ctx, ev.RoomID, ev.SenderID)
		if err != nil {
			return err
		}
		o.publish(ctx, domain.RoomChannel(ev.RoomID), domain.RoomEvent{
			Type:      domain.EventRead,
			RoomID:    ev.RoomID,
			SenderID:  ev.SenderID,
			ReadCount: marked,
			Timestamp: o.now(),
		})
		return nil

	case domain.EventTyping:
		sender, err := o.participant(ctx, ev.RoomID, ev.SenderID)
		if err != nil {
			return err
		}
		typing := ev.IsTyping
		o.publish(ctx, domain.TypingChannel(ev.RoomID), domain.RoomEvent{
			Type:       domain.EventTyping,
			RoomID:     ev.RoomID,
			SenderID:   sender.ID,
			SenderName: sender.DisplayName,
			IsTyping:   &typing,
			Timestamp:  o.now(),
		})
		return nil

	default:
		return domain.ErrUnsupportedEvent
	}
}

func (o *Orchestrator) participant(ctx context.Context, roomID, userID string) (*domain.User, error) {
	if _, err := o.chat.GetRoom(ctx, roomID, userID); err != nil {
		return nil, err
	}
	return o.directory.Lookup(ctx, userID)
}

// SendMessage persists and broadcasts a participant's message and, for
// human senders, runs bot mediation. Provider trouble never fails the call:
// the returned message is the sender's, already stored.
func (o *Orchestrator) SendMessage(ctx context.Context, req SendRequest) (*domain.Message, error) {
	room, sender, msgType, err := o.validate(ctx, req)
	if err != nil {
		o.stage(ctx, stageValidated, "rejected", "error", err)
		return nil, err
	}
	o.stage(ctx, stageValidated, "ok")

	msg := &domain.Message{
		RoomID:     room.ID,
		SenderID:   sender.ID,
		SenderName: sender.DisplayName,
		Type:       msgType,
		Content:    req.Content,
	}
	recipient, err := o.appendOutbound(ctx, room, msg)
	if err != nil {
		o.stage(ctx, stagePersisted, "failed")
		observability.Error(ctx, "failed to persist message", "error", err)
		return nil, err
	}
	observability.MessagesPersisted.WithLabelValues(string(msg.Type), string(sender.Kind)).Inc()
	o.stage(ctx, stagePersisted, "ok", "message_id", msg.ID)

	o.broadcast(ctx, msg, stageBroadcast)

	if sender.IsBot() || msg.Type == domain.MessageSystem {
		return msg, nil
	}

	bot, err := o.roomBot(ctx, room, recipient)
	if err != nil {
		observability.Error(ctx, "failed to resolve room bot", "error", err)
		return msg, nil
	}
	if bot == nil {
		return msg, nil
	}

	o.mediate(ctx, room, bot, msg)
	return msg, nil
}

// appendOutbound records msg on the room aggregate and stores it, crediting
// the recipient slot the aggregate picked
func (o *Orchestrator) appendOutbound(ctx context.Context, room *domain.ChatRoom, msg *domain.Message) (domain.Slot, error) {
	recipient, err := room.RecordOutboundMessage(msg.SenderID, msg.Content, o.now())
	if err != nil {
		return 0, err
	}
	if err := o.messageRepo.Append(ctx, msg, recipient); err != nil {
		return 0, err
	}
	return recipient, nil
}

func (o *Orchestrator) validate(ctx context.Context, req SendRequest) (*domain.ChatRoom, *domain.User, domain.MessageType, error) {
	room, err := o.chat.GetRoom(ctx, req.RoomID, req.SenderID)
	if err != nil {
		return nil, nil, "", err
	}
	msgType, err := domain.ParseMessageType(req.MessageType)
	if err != nil {
		return nil, nil, "", err
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, nil, "", domain.ErrEmptyContent
	}
	if utf8.RuneCountInString(req.Content) > domain.MaxContentLength {
		return nil, nil, "", domain.ErrMessageTooLong
	}

	sender, err := o.directory.Lookup(ctx, req.SenderID)
	if err != nil {
		return nil, nil, "", err
	}
	if !sender.Active {
		return nil, nil, "", domain.ErrUserInactive
	}
	return room, sender, msgType, nil
}

// roomBot returns the participant in slot when it is a bot, or nil
func (o *Orchestrator) roomBot(ctx context.Context, room *domain.ChatRoom, slot domain.Slot) (*domain.User, error) {
	other, err := o.directory.Lookup(ctx, room.ParticipantAt(slot))
	if err != nil {
		return nil, err
	}
	if !other.IsBot() {
		return nil, nil
	}
	return other, nil
}

func (o *Orchestrator) mediate(ctx context.Context, room *domain.ChatRoom, bot *domain.User, msg *domain.Message) {
	reservation := o.budget.CheckAndReserve(room.ID)
	if !reservation.Allowed {
		o.stage(ctx, stageBudgetChecked, "denied", "usage", reservation.CurrentUsage)
		if reservation.LimitJustCrossed {
			o.sendLimitNotice(ctx, room, bot)
		}
		return
	}
	o.stage(ctx, stageBudgetChecked, "allowed", "usage", reservation.CurrentUsage)

	start := time.Now()
	result, err := o.provider.Complete(ctx, completion.Prompt{System: o.persona, UserText: msg.Content})
	observability.ProviderCallDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		observability.ProviderCallsTotal.WithLabelValues(providerOutcome(err)).Inc()
		o.stage(ctx, stageProviderCalled, "failed")
		observability.Warn(ctx, "completion failed, no bot reply", "error", err)
		return
	}
	observability.ProviderCallsTotal.WithLabelValues("ok").Inc()
	o.stage(ctx, stageProviderCalled, "ok", "units", result.Units, "estimated", result.Estimated)

	reply := &domain.Message{
		RoomID:     room.ID,
		SenderID:   bot.ID,
		SenderName: bot.DisplayName,
		Type:       domain.MessageText,
		Content:    result.Text,
	}
	// Charged only once stored.
	if _, err := o.appendOutbound(ctx, room, reply); err != nil {
		o.stage(ctx, stageReplyPersisted, "failed")
		observability.Error(ctx, "failed to persist bot reply", "error", err, "units", result.Units)
		return
	}
	observability.MessagesPersisted.WithLabelValues(string(reply.Type), string(bot.Kind)).Inc()

	commitment := o.budget.Commit(room.ID, result.Units)
	o.stage(ctx, stageReplyPersisted, "ok", "message_id", reply.ID, "usage", commitment.UpdatedUsage)

	o.broadcast(ctx, reply, stageReplyBroadcast)

	if commitment.LimitJustCrossed {
		o.sendLimitNotice(ctx, room, bot)
	}
}

func (o *Orchestrator) sendLimitNotice(ctx context.Context, room *domain.ChatRoom, bot *domain.User) {
	notice := &domain.Message{
		RoomID:     room.ID,
		SenderID:   bot.ID,
		SenderName: bot.DisplayName,
		Type:       domain.MessageSystem,
		Content:    fmt.Sprintf(limitNoticeFormat, o.budget.Usage(room.ID).Limit),
	}
	if _, err := o.appendOutbound(ctx, room, notice); err != nil {
		o.stage(ctx, stageNoticePersisted, "failed")
		observability.Error(ctx, "failed to persist limit notice", "error", err)
		return
	}
	observability.MessagesPersisted.WithLabelValues(string(notice.Type), string(bot.Kind)).Inc()
	o.stage(ctx, stageNoticePersisted, "ok", "message_id", notice.ID)
	observability.Info(ctx, "room bot budget exhausted")

	o.broadcast(ctx, notice, stageReplyBroadcast)
}

func (o *Orchestrator) broadcast(ctx context.Context, msg *domain.Message, stage string) {
	if err := o.publisher.Publish(ctx, domain.RoomChannel(msg.RoomID), domain.MessageEvent(msg)); err != nil {
		o.stage(ctx, stage, "failed")
		observability.Error(ctx, "failed to broadcast message", "message_id", msg.ID, "error", err)
		return
	}
	o.stage(ctx, stage, "ok")
}

func (o *Orchestrator) publish(ctx context.Context, channelKey string, event domain.RoomEvent) {
	if err := o.publisher.Publish(ctx, channelKey, event); err != nil {
		observability.Error(ctx, "failed to publish room event", "channel", channelKey, "type", event.Type, "error", err)
	}
}

func providerOutcome(err error) string {
	switch {
	case errors.Is(err, completion.ErrTimeout):
		return "timeout"
	case errors.Is(err, completion.ErrMalformedResponse):
		return "malformed"
	default:
		return "unavailable"
	}
}
