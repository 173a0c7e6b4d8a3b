// Package render draws ticket PDFs with an embedded redemption QR code.
package render

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/google/uuid"
	"github.com/kirinyoku/tix-gate/internal/domain"
	qrcode "github.com/skip2/go-qrcode"
)

type Config struct {
	// BaseURL is the public origin encoded into QR codes; scanners open
	// <BaseURL>/r/<token>.
	BaseURL string
	Brand   string
	Venue   string
}

type Renderer struct {
	cfg Config
}

func NewRenderer(cfg Config) *Renderer {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Renderer{cfg: cfg}
}

// RedeemURL is the payload encoded in the QR image.
func (r *Renderer) RedeemURL(token string) string {
	return r.cfg.BaseURL + "/r/" + token
}

// PDFURL is the public download link for a ticket.
func (r *Renderer) PDFURL(id uuid.UUID) string {
	return r.cfg.BaseURL + "/api/tickets/" + id.String() + "/pdf"
}

// TicketPDF renders one A4 page for t.
func (r *Renderer) TicketPDF(t domain.Ticket, phone string) ([]byte, error) {
	return r.TicketsPDF([]domain.Ticket{t}, phone)
}

// TicketsPDF renders one page per ticket into a single document.
func (r *Renderer) TicketsPDF(tickets []domain.Ticket, phone string) ([]byte, error) {
	const op = "render.Renderer.TicketsPDF"

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(r.cfg.Brand+" ticket", true)
	pdf.SetAutoPageBreak(false, 0)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	for i, t := range tickets {
		png, err := qrcode.Encode(r.RedeemURL(t.Token), qrcode.High, 600)
		if err != nil {
			return nil, fmt.Errorf("%s: qr: %w", op, err)
		}

		pdf.AddPage()

		// header strip
		pdf.SetFillColor(230, 43, 30)
		pdf.Rect(0, 0, 210, 20, "F")
		pdf.SetTextColor(255, 255, 255)
		pdf.SetFont("Helvetica", "B", 14)
		pdf.SetXY(0, 6)
		pdf.CellFormat(210, 8, tr(strings.ToUpper(r.cfg.Brand)+" ADMIT ONE"), "", 0, "C", false, 0, "")

		pdf.SetTextColor(20, 20, 20)
		pdf.SetFont("Helvetica", "B", 26)
		pdf.SetXY(15, 35)
		pdf.CellFormat(180, 12, tr(t.EventName), "", 1, "C", false, 0, "")

		name := fmt.Sprintf("qr-%d", i)
		pdf.RegisterImageOptionsReader(name, fpdf.ImageOptions{ImageType: "PNG"}, bytes.NewReader(png))
		pdf.ImageOptions(name, 55, 60, 100, 100, false, fpdf.ImageOptions{ImageType: "PNG"}, 0, "")

		pdf.SetFont("Courier", "B", 20)
		pdf.SetXY(15, 165)
		pdf.CellFormat(180, 10, strings.ToUpper(domain.ShortCode(t.Token)), "", 1, "C", false, 0, "")

		pdf.SetFont("Helvetica", "", 12)
		y := 185.0
		for _, line := range r.details(t, phone) {
			pdf.SetXY(30, y)
			pdf.CellFormat(150, 8, tr(line), "", 1, "L", false, 0, "")
			y += 9
		}

		pdf.SetFont("Helvetica", "I", 9)
		pdf.SetTextColor(110, 110, 110)
		pdf.SetXY(15, 275)
		pdf.CellFormat(180, 6, "This ticket admits one person and can be scanned only once.", "", 1, "C", false, 0, "")
	}

	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return buf.Bytes(), nil
}

func (r *Renderer) details(t domain.Ticket, phone string) []string {
	lines := []string{"Name: " + t.PurchaserName}
	if t.SeatTier != "" {
		lines = append(lines, "Seat: "+t.SeatTier)
	}
	if r.cfg.Venue != "" {
		lines = append(lines, "Venue: "+r.cfg.Venue)
	}
	if phone != "" {
		lines = append(lines, "Phone: "+phone)
	}
	lines = append(lines,
		"Ticket ID: "+t.ID.String(),
		"Issued: "+t.IssuedAt.UTC().Format("2 Jan 2006 15:04 MST"),
	)
	return lines
}

// FileName is the attachment name used in emails and downloads.
func (r *Renderer) FileName(t domain.Ticket) string {
	brand := strings.ToLower(strings.ReplaceAll(r.cfg.Brand, " ", "-"))
	return fmt.Sprintf("%s-ticket-%s.pdf", brand, t.ID.String()[:8])
}
