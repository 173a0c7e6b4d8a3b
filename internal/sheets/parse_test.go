package sheets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var gala = ParseOptions{DefaultEvent: "Spring Gala"}

func sheet() [][]any {
	return [][]any{
		{"Timestamp", "Full Name", "Email Address", "Phone", "Quantity", "Seat Tier", "Payment Proof", "Notes"},
		{"3/1/2026 10:00", "Ana Lima", "ana@example.org", "555-0100", "2", "VIP", "https://drive/x", ""},
		{"3/1/2026 10:05", "", "nobody@example.org", "", "1", "", "", ""},
		{"3/1/2026 10:07", "Bo Chen", " bo@example.org ", "", "abc", "", "", "late"},
		{"3/1/2026 10:09", "Cy Diaz"},
	}
}

func TestParseRows(t *testing.T) {
	rows := ParseRows(sheet(), 0, gala)
	require.Len(t, rows, 2)

	assert.Equal(t, 1, rows[0].RowIndex)
	assert.Equal(t, "Ana Lima", rows[0].FullName)
	assert.Equal(t, 2, rows[0].Quantity)
	assert.Equal(t, "VIP", rows[0].SeatTier)
	assert.Equal(t, "https://drive/x", rows[0].ProofURL)
	assert.Empty(t, rows[0].PaymentType, "the payment proof column is not the payment type")
	assert.Equal(t, "Spring Gala", rows[0].EventName)

	assert.Equal(t, 3, rows[1].RowIndex)
	assert.Equal(t, "bo@example.org", rows[1].Email)
	assert.Equal(t, 1, rows[1].Quantity, "unparseable quantity falls back to 1")
	assert.Equal(t, "late", rows[1].Notes)
}

func TestParseRows_AfterLastRow(t *testing.T) {
	rows := ParseRows(sheet(), 1, gala)
	require.Len(t, rows, 1)
	assert.Equal(t, 3, rows[0].RowIndex)

	assert.Empty(t, ParseRows(sheet(), 4, gala))
}

func TestParseRows_HeaderOnly(t *testing.T) {
	assert.Empty(t, ParseRows(sheet()[:1], 0, ParseOptions{}))
	assert.Empty(t, ParseRows(nil, 0, ParseOptions{}))
}

func TestParseRows_EventColumn(t *testing.T) {
	values := [][]any{
		{"Name", "Email", "Event"},
		{"Ana", "ana@example.org", "Autumn Talks"},
		{"Bo", "bo@example.org", ""},
	}

	rows := ParseRows(values, 0, gala)
	require.Len(t, rows, 2)
	assert.Equal(t, "Autumn Talks", rows[0].EventName)
	assert.Equal(t, "Spring Gala", rows[1].EventName)
}

func TestParseRows_PaymentType(t *testing.T) {
	values := [][]any{
		{"Name", "Email", "Payment Type", "Payment Proof"},
		{"Ana", "ana@example.org", "Bank transfer", "https://drive/a"},
	}

	rows := ParseRows(values, 0, gala)
	require.Len(t, rows, 1)
	assert.Equal(t, "Bank transfer", rows[0].PaymentType)
	assert.Equal(t, "https://drive/a", rows[0].ProofURL)

	values = [][]any{
		{"Name", "Email", "Payment"},
		{"Bo", "bo@example.org", "Cash"},
	}
	rows = ParseRows(values, 0, gala)
	require.Len(t, rows, 1)
	assert.Equal(t, "Cash", rows[0].PaymentType)
}

func TestParseRows_QuantityCapped(t *testing.T) {
	values := [][]any{
		{"Name", "Email", "Quantity", "Notes"},
		{"Ana", "ana@example.org", "1000000", "group booking"},
		{"Bo", "bo@example.org", "4", ""},
		{"Cy", "cy@example.org", "11", ""},
	}

	rows := ParseRows(values, 0, ParseOptions{MaxQuantity: 4})
	require.Len(t, rows, 3)
	assert.Equal(t, 4, rows[0].Quantity)
	assert.Equal(t, "group booking [quantity 1000000 capped at 4]", rows[0].Notes)
	assert.Equal(t, 4, rows[1].Quantity)
	assert.Empty(t, rows[1].Notes)

	rows = ParseRows(values, 0, ParseOptions{})
	assert.Equal(t, DefaultMaxQuantity, rows[0].Quantity)
	assert.Equal(t, 10, rows[2].Quantity)
	assert.Equal(t, "[quantity 11 capped at 10]", rows[2].Notes)
}
