package redemption

import (
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/tix-gate/internal/domain"
)

// Reason classifies the outcome of a redemption attempt. Denials are
// ordinary results, not errors.
type Reason string

const (
	ReasonAdmitted        Reason = "admitted"
	ReasonInvalidCode     Reason = "invalid"
	ReasonAmbiguousCode   Reason = "ambiguous"
	ReasonAlreadyRedeemed Reason = "already_redeemed"
	ReasonCancelled       Reason = "cancelled"
	ReasonExpired         Reason = "expired"
	ReasonUnknown         Reason = "unknown"

	// ReasonError means storage failed and no verdict was reached.
	ReasonError Reason = "error"
)

type TicketSnapshot struct {
	ID            uuid.UUID `json:"id"`
	EventName     string    `json:"event_name"`
	PurchaserName string    `json:"purchaser_name"`
	SeatTier      string    `json:"seat_tier,omitempty"`
}

type Result struct {
	Success    bool
	Reason     Reason
	Message    string
	Ticket     *TicketSnapshot
	RedeemedAt *time.Time
}

func snapshot(t *domain.Ticket) *TicketSnapshot {
	return &TicketSnapshot{
		ID:            t.ID,
		EventName:     t.EventName,
		PurchaserName: t.PurchaserName,
		SeatTier:      t.SeatTier,
	}
}

func admitted(t *domain.Ticket) Result {
	return Result{
		Success:    true,
		Reason:     ReasonAdmitted,
		Message:    "Ticket redeemed successfully",
		Ticket:     snapshot(t),
		RedeemedAt: t.RedeemedAt,
	}
}

func denied(reason Reason, message string) Result {
	return Result{Reason: reason, Message: message}
}

// deniedFor derives the denial for a ticket whose conditional write did not
// match.
func deniedFor(t *domain.Ticket) Result {
	switch t.Status {
	case domain.TicketRedeemed:
		r := denied(ReasonAlreadyRedeemed, "Ticket already redeemed")
		r.RedeemedAt = t.RedeemedAt
		return r
	case domain.TicketCancelled:
		return denied(ReasonCancelled, "Ticket has been cancelled")
	case domain.TicketExpired:
		return denied(ReasonExpired, "Ticket has expired")
	default:
		return denied(ReasonUnknown, "Ticket status: "+string(t.Status))
	}
}
