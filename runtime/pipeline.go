package runtime

import (
	"chatter/contract"
	"chatter/domain"
	"chatter/errors"
	"chatter/wire"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const localIDPrefix = "local-"

// Pipeline dispatches locally composed messages and drives their
// pending -> confirmed | failed lifecycle. Confirmation happens in the
// store when the server echo is reconciled.
type Pipeline struct {
	log         *slog.Logger
	emitter     contract.Emitter
	store       *MessageStore
	validate    *validator.Validate
	contentRule string
	sendTimeout time.Duration
	now         func() time.Time
}

func NewPipeline(log *slog.Logger, emitter contract.Emitter, store *MessageStore,
	maxContentLength int, sendTimeout time.Duration) *Pipeline {
	rule := "required"
	if maxContentLength > 0 {
		rule = fmt.Sprintf("required,max=%d", maxContentLength)
	}
	return &Pipeline{
		log:         log,
		emitter:     emitter,
		store:       store,
		validate:    validator.New(),
		contentRule: rule,
		sendTimeout: sendTimeout,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source, used by tests.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// Send validates content, inserts the pending message and emits it.
// Rejected content leaves no trace: no pending entry, no frame.
// When the emit fails the entry stays visible as failed.
func (p *Pipeline) Send(ctx context.Context, sender domain.Participant, roomID domain.RoomID, content string) (domain.Message, error) {
	if strings.TrimSpace(content) == "" {
		return domain.Message{}, errors.ErrEmptyContent
	}
	if err := p.validate.Var(content, p.contentRule); err != nil {
		return domain.Message{}, fmt.Errorf("%w: %w", errors.ErrContentTooLong, err)
	}
	if p.emitter.State() != domain.Connected {
		return domain.Message{}, errors.ErrNotConnected
	}
	if active, ok := p.store.ActiveRoom(); !ok || active != roomID {
		return domain.Message{}, errors.ErrNoActiveRoom
	}

	correlationID := uuid.NewString()
	msg := domain.Message{
		ID:              domain.MessageID(localIDPrefix + correlationID),
		RoomID:          roomID,
		SenderID:        sender.ID,
		SenderFirstName: sender.FirstName,
		SenderLastName:  sender.LastName,
		Content:         content,
		SentAt:          p.now(),
		State:           domain.Pending,
		CorrelationID:   correlationID,
	}
	p.store.AddPending(msg)

	if err := p.emitter.Emit(ctx, wire.EventSend, wire.NewSendPayload(sender, msg)); err != nil {
		failed, _ := p.store.MarkFailed(msg.ID, err.Error())
		p.log.Warn("Send failed", "local_id", msg.ID, "error", err)
		return failed, fmt.Errorf("%w: %w", errors.ErrSendFailure, err)
	}
	p.log.Debug("Message pending", "local_id", msg.ID, "room", roomID)
	return msg, nil
}

// Fail marks the pending message a send error refers to as failed.
// Without a correlation id, the oldest pending send is the one blamed.
func (p *Pipeline) Fail(detail wire.ErrorPayload) (domain.Message, bool) {
	target, ok := p.store.OldestPending(detail.ClientID)
	if !ok {
		p.log.Debug("Send error without pending message", "detail", detail.Message)
		return domain.Message{}, false
	}
	reason := detail.Message
	if reason == "" {
		reason = errors.ErrSendFailure.Error()
	}
	return p.store.MarkFailed(target.ID, reason)
}

// Expire fails pending sends older than the send timeout. Zero disables it.
func (p *Pipeline) Expire(now time.Time) []domain.Message {
	if p.sendTimeout <= 0 {
		return nil
	}
	var expired []domain.Message
	for _, m := range p.store.PendingSince(now.Add(-p.sendTimeout)) {
		if failed, ok := p.store.MarkFailed(m.ID, errors.ErrSendTimeout.Error()); ok {
			expired = append(expired, failed)
		}
	}
	return expired
}

// Retry resubmits the content of a failed message as a brand new send.
// Nothing is ever resubmitted without an explicit call.
func (p *Pipeline) Retry(ctx context.Context, sender domain.Participant, localID domain.MessageID) (domain.Message, error) {
	msg, ok := p.store.Find(localID)
	if !ok {
		return domain.Message{}, errors.ErrUnknownMessage
	}
	if msg.State != domain.Failed {
		return domain.Message{}, errors.ErrNotRetryable
	}
	if p.emitter.State() != domain.Connected {
		return domain.Message{}, errors.ErrNotConnected
	}
	p.store.Remove(localID)
	return p.Send(ctx, sender, msg.RoomID, msg.Content)
}
