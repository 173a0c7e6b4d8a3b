package render

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/tix-gate/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderer_TicketsPDF(t *testing.T) {
	r := NewRenderer(Config{BaseURL: "https://tix.example.org/", Brand: "Spring Gala", Venue: "Main Hall"})

	tickets := []domain.Ticket{
		{ID: uuid.New(), Token: uuid.NewString(), EventName: "Spring Gala", PurchaserName: "Zoë Ortiz", SeatTier: "VIP", IssuedAt: time.Now()},
		{ID: uuid.New(), Token: uuid.NewString(), EventName: "Spring Gala", PurchaserName: "Zoë Ortiz", IssuedAt: time.Now()},
	}

	b, err := r.TicketsPDF(tickets, "+1 555 0100")
	require.NoError(t, err)
	assert.True(t, len(b) > 1000)
	assert.Equal(t, "%PDF", string(b[:4]))
}

func TestRenderer_RedeemURLAndFileName(t *testing.T) {
	r := NewRenderer(Config{BaseURL: "https://tix.example.org/", Brand: "Spring Gala"})
	id := uuid.MustParse("3f2a9c1b-0000-4000-8000-000000000001")

	assert.Equal(t, "https://tix.example.org/r/abc", r.RedeemURL("abc"))
	assert.Equal(t, "https://tix.example.org/api/tickets/"+id.String()+"/pdf", r.PDFURL(id))
	assert.Equal(t, "spring-gala-ticket-3f2a9c1b.pdf", r.FileName(domain.Ticket{ID: id}))
}
