package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type TicketStatus string

const (
	TicketValid     TicketStatus = "valid"
	TicketRedeemed  TicketStatus = "redeemed"
	TicketCancelled TicketStatus = "cancelled"
	TicketExpired   TicketStatus = "expired"
)

// Terminal reports whether no transition may leave the status.
func (s TicketStatus) Terminal() bool {
	switch s {
	case TicketRedeemed, TicketCancelled, TicketExpired:
		return true
	}
	return false
}

func (s TicketStatus) Valid() bool {
	switch s {
	case TicketValid, TicketRedeemed, TicketCancelled, TicketExpired:
		return true
	}
	return false
}

type RequestStatus string

const (
	RequestPendingReview RequestStatus = "pending_review"
	RequestApproved      RequestStatus = "approved"
	RequestRejected      RequestStatus = "rejected"
)

func (s RequestStatus) Valid() bool {
	switch s {
	case RequestPendingReview, RequestApproved, RequestRejected:
		return true
	}
	return false
}

type Ticket struct {
	ID                uuid.UUID    `json:"id"`
	Token             string       `json:"token"`
	Status            TicketStatus `json:"status"`
	EventName         string       `json:"event_name"`
	PurchaserName     string       `json:"purchaser_name"`
	PurchaserEmail    string       `json:"purchaser_email"`
	SeatTier          string       `json:"seat_tier,omitempty"`
	PurchaseRequestID *uuid.UUID   `json:"purchase_request_id,omitempty"`
	IssuedAt          time.Time    `json:"issued_at"`
	RedeemedAt        *time.Time   `json:"redeemed_at,omitempty"`
	RedeemedBy        *string      `json:"redeemed_by,omitempty"`
}

// StatusChange is the set of fields written together with a status
// transition. Redemption fields are only set on valid -> redeemed.
type StatusChange struct {
	Status     TicketStatus
	RedeemedAt *time.Time
	RedeemedBy *string
}

type PurchaseRequest struct {
	ID          uuid.UUID     `json:"id"`
	SheetRowID  int           `json:"sheet_row_id"`
	Name        string        `json:"name"`
	Email       string        `json:"email"`
	Phone       string        `json:"phone,omitempty"`
	EventName   string        `json:"event_name"`
	Qty         int           `json:"qty"`
	SeatTier    string        `json:"seat_tier,omitempty"`
	PaymentType string        `json:"payment_type,omitempty"`
	ProofURL    string        `json:"proof_url,omitempty"`
	Notes       string        `json:"notes,omitempty"`
	Status      RequestStatus `json:"status"`
	ReviewerID  string        `json:"reviewer_id,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// SheetRow is one parsed row of the intake spreadsheet.
type SheetRow struct {
	RowIndex    int
	Timestamp   string
	FullName    string
	Email       string
	Phone       string
	EventName   string
	Quantity    int
	SeatTier    string
	PaymentType string
	ProofURL    string
	Notes       string
}

type AuditEntry struct {
	ID        int64           `json:"id"`
	Action    string          `json:"action"`
	Entity    string          `json:"entity"`
	EntityID  string          `json:"entity_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	ActorID   string          `json:"actor_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type Stats struct {
	TotalRequests    int64 `json:"total_requests"`
	PendingRequests  int64 `json:"pending_requests"`
	ApprovedRequests int64 `json:"approved_requests"`
	RejectedRequests int64 `json:"rejected_requests"`
	TotalTickets     int64 `json:"total_tickets"`
	ValidTickets     int64 `json:"valid_tickets"`
	RedeemedTickets  int64 `json:"redeemed_tickets"`
	CancelledTickets int64 `json:"cancelled_tickets"`
	ExpiredTickets   int64 `json:"expired_tickets"`
}

// Redemption is a masked row of the scan monitor feed.
type Redemption struct {
	ID            uuid.UUID    `json:"id"`
	EventName     string       `json:"event_name"`
	PurchaserName string       `json:"purchaser_name"`
	SeatTier      string       `json:"seat_tier,omitempty"`
	RedeemedAt    *time.Time   `json:"redeemed_at,omitempty"`
	Status        TicketStatus `json:"status"`
	Token         string       `json:"token"`
}

type TicketFilter struct {
	Status TicketStatus
	Search string
	Limit  int
	Offset int
}

type RequestFilter struct {
	Status RequestStatus
	Search string
	Limit  int
	Offset int
}

// Page is a slice of results plus the total count before pagination.
type Page[T any] struct {
	Data  []T   `json:"data"`
	Count int64 `json:"count"`
}
