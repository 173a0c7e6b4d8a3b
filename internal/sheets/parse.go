// Package sheets reads purchase requests from the intake spreadsheet.
package sheets

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kirinyoku/tix-gate/internal/domain"
)

// DefaultMaxQuantity caps tickets per request when ParseOptions leaves it unset.
const DefaultMaxQuantity = 10

type ParseOptions struct {
	DefaultEvent string
	// MaxQuantity clamps the quantity column. Zero means DefaultMaxQuantity.
	MaxQuantity int
}

// ParseRows converts raw sheet values into rows. values[0] is the header;
// only rows with index greater than lastRow are returned. Row indexes are
// positions in values, so the first data row is 1.
//
// Columns are matched by case-insensitive substring of the header, so
// "Full Name" and "Email Address" both work. Rows without a name or an
// email are skipped.
func ParseRows(values [][]any, lastRow int, opts ParseOptions) []domain.SheetRow {
	if len(values) <= 1 {
		return nil
	}

	headers := make([]string, len(values[0]))
	for i, h := range values[0] {
		headers[i] = strings.ToLower(strings.TrimSpace(cell(h)))
	}

	col := func(names ...string) int {
		for _, n := range names {
			for i, h := range headers {
				if strings.Contains(h, n) {
					return i
				}
			}
		}
		return -1
	}

	var (
		cTimestamp = col("timestamp")
		cName      = col("name")
		cEmail     = col("email")
		cPhone     = col("phone")
		cEvent     = col("event")
		cQty       = col("quantity")
		cSeat      = col("seat", "tier")
		cProof     = col("proof", "url")
		cNotes     = col("notes")
		cPayment   = col("payment type")
	)
	// A bare "payment" header is the payment type unless it is the proof column.
	if c := col("payment"); cPayment < 0 && c != cProof {
		cPayment = c
	}

	maxQty := opts.MaxQuantity
	if maxQty <= 0 {
		maxQty = DefaultMaxQuantity
	}

	var out []domain.SheetRow
	for i := max(1, lastRow+1); i < len(values); i++ {
		row := values[i]
		get := func(c int) string {
			if c < 0 || c >= len(row) {
				return ""
			}
			return strings.TrimSpace(cell(row[c]))
		}

		r := domain.SheetRow{
			RowIndex:    i,
			Timestamp:   get(cTimestamp),
			FullName:    get(cName),
			Email:       get(cEmail),
			Phone:       get(cPhone),
			EventName:   get(cEvent),
			Quantity:    1,
			SeatTier:    get(cSeat),
			PaymentType: get(cPayment),
			ProofURL:    get(cProof),
			Notes:       get(cNotes),
		}
		if r.FullName == "" || r.Email == "" {
			continue
		}
		if r.EventName == "" {
			r.EventName = opts.DefaultEvent
		}
		if q, err := strconv.Atoi(get(cQty)); err == nil && q > 0 {
			if q > maxQty {
				r.Notes = strings.TrimSpace(r.Notes + fmt.Sprintf(" [quantity %d capped at %d]", q, maxQty))
				q = maxQty
			}
			r.Quantity = q
		}

		out = append(out, r)
	}

	return out
}

func cell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
