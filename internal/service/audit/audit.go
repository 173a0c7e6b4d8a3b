package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirinyoku/tix-gate/internal/domain"
)

// Actions written to the audit log.
const (
	ActionRedeemSuccess = "redeem_success"
	ActionRedeemFailed  = "redeem_failed"
	ActionApprove       = "approve_request"
	ActionReject        = "reject_request"
	ActionCancel        = "cancel_ticket"
	ActionExpire        = "expire_tickets"
	ActionResend        = "resend_ticket"
	ActionSync          = "sync_google_sheets"
)

const (
	EntityTickets  = "tickets"
	EntityRequests = "purchase_requests"
)

type Store interface {
	Append(ctx context.Context, e domain.AuditEntry) error
	List(ctx context.Context, entity, entityID string, limit int) ([]domain.AuditEntry, error)
}

type Record struct {
	Action   string
	Entity   string
	EntityID string
	ActorID  string
	Payload  any
}

// Sink appends audit records. A failed append is logged and dropped: the
// audit trail must never fail or roll back the action it describes.
type Sink struct {
	store Store
	log   *slog.Logger
	now   func() time.Time
}

func New(store Store, log *slog.Logger) *Sink {
	return &Sink{store: store, log: log.With("component", "audit"), now: time.Now}
}

func (s *Sink) Record(ctx context.Context, r Record) {
	var payload json.RawMessage
	if r.Payload != nil {
		b, err := json.Marshal(r.Payload)
		if err != nil {
			s.log.ErrorContext(ctx, "audit payload", "action", r.Action, "err", err)
		} else {
			payload = b
		}
	}

	err := s.store.Append(ctx, domain.AuditEntry{
		Action:    r.Action,
		Entity:    r.Entity,
		EntityID:  r.EntityID,
		Payload:   payload,
		ActorID:   r.ActorID,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		s.log.ErrorContext(ctx, "audit append failed",
			"action", r.Action,
			"entity", r.Entity,
			"entity_id", r.EntityID,
			"err", err,
		)
	}
}

// List returns the newest entries, optionally narrowed to an entity.
func (s *Sink) List(ctx context.Context, entity, entityID string, limit int) ([]domain.AuditEntry, error) {
	const op = "service.audit.List"

	if limit <= 0 || limit > 500 {
		limit = 100
	}

	out, err := s.store.List(ctx, entity, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return out, nil
}
