package httpgin

import (
	"time"

	"github.com/kirinyoku/tix-gate/internal/domain"
	"github.com/kirinyoku/tix-gate/internal/service/redemption"
)

type RedeemRequest struct {
	Token string `json:"token" binding:"required"`
}

type RejectRequest struct {
	Reason string `json:"reason"`
}

type ExpireEventRequest struct {
	EventName string `json:"event_name" binding:"required"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

// RedeemResponse is returned with 200 for every business outcome, admitted
// or denied.
type RedeemResponse struct {
	Success    bool                       `json:"success"`
	Message    string                     `json:"message"`
	Reason     redemption.Reason          `json:"reason"`
	Ticket     *redemption.TicketSnapshot `json:"ticket,omitempty"`
	RedeemedAt *time.Time                 `json:"redeemed_at,omitempty"`
}

func newRedeemResponse(r redemption.Result) RedeemResponse {
	return RedeemResponse{
		Success:    r.Success,
		Message:    r.Message,
		Reason:     r.Reason,
		Ticket:     r.Ticket,
		RedeemedAt: r.RedeemedAt,
	}
}

type ApproveResponse struct {
	Request *domain.PurchaseRequest `json:"request"`
	Tickets []domain.Ticket         `json:"tickets"`
}

type RejectResponse struct {
	Request *domain.PurchaseRequest `json:"request"`
}

type ExpireEventResponse struct {
	EventName string `json:"event_name"`
	Expired   int    `json:"expired"`
}

type SyncResponse struct {
	Count    int   `json:"count"`
	Inserted int64 `json:"inserted"`
	LastRow  int   `json:"last_row"`
}

type RedemptionsResponse struct {
	Data []domain.Redemption `json:"data"`
}

type AuditResponse struct {
	Data []domain.AuditEntry `json:"data"`
}
