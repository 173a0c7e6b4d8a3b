package domain

import (
	"time"

	"github.com/google/uuid"
)

// Ticket lifecycle event types, as published to the event bus and the
// live scan monitor.
const (
	EventTicketIssued    = "ticket.issued"
	EventTicketRedeemed  = "ticket.redeemed"
	EventTicketCancelled = "ticket.cancelled"
	EventTicketExpired   = "ticket.expired"
)

// TicketEvent never carries the full token.
type TicketEvent struct {
	Type          string       `json:"type"`
	TicketID      uuid.UUID    `json:"ticket_id"`
	EventName     string       `json:"event_name"`
	PurchaserName string       `json:"purchaser_name,omitempty"`
	SeatTier      string       `json:"seat_tier,omitempty"`
	Status        TicketStatus `json:"status"`
	Token         string       `json:"token,omitempty"`
	At            time.Time    `json:"at"`
}

// NewTicketEvent builds an event for t with the token masked.
func NewTicketEvent(typ string, t Ticket, at time.Time) TicketEvent {
	return TicketEvent{
		Type:          typ,
		TicketID:      t.ID,
		EventName:     t.EventName,
		PurchaserName: t.PurchaserName,
		SeatTier:      t.SeatTier,
		Status:        t.Status,
		Token:         MaskToken(t.Token),
		At:            at,
	}
}
