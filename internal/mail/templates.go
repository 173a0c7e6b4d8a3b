package mail

import (
	"bytes"
	"fmt"
	"html/template"
	"time"
)

var ticketTmpl = template.Must(template.New("tickets").Funcs(template.FuncMap{
	"inc": func(i int) int { return i + 1 },
}).Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
  <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
    <div style="background: #000; color: #fff; padding: 20px; text-align: center; font-size: 24px;">{{.Brand}}</div>
    <div style="padding: 30px 20px; background: #f9f9f9;">
      <h2>Hello {{.Name}},</h2>
      <p>Your {{.Noun}} {{if eq .Count 1}}is{{else}}are{{end}} ready! {{if eq .Count 1}}The ticket is{{else}}All {{.Count}} tickets are{{end}} attached as PDF.</p>
      <p style="background: #fff3cd; border-left: 4px solid #e62b1e; padding: 12px;">
        <strong>Important:</strong> each ticket can be scanned only once at the entrance.
      </p>
      <ul>
        <li>Event: {{.EventName}}</li>
        {{if .Venue}}<li>Venue: {{.Venue}}</li>{{end}}
        {{if .SeatTier}}<li>Seat: {{.SeatTier}}</li>{{end}}
      </ul>
      {{range $i, $u := .Links}}<p><a href="{{$u}}">View ticket {{inc $i}}</a></p>{{end}}
      <p>See you at the event!</p>
    </div>
    <div style="padding: 20px; text-align: center; font-size: 12px; color: #666;">
      <p>Questions? Contact us at {{.Contact}}</p>
      <p>&copy; {{.Year}} {{.Brand}}</p>
    </div>
  </div>
</body>
</html>`))

var rejectionTmpl = template.Must(template.New("rejection").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
  <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
    <div style="background: #000; color: #fff; padding: 20px; text-align: center; font-size: 24px;">{{.Brand}}</div>
    <div style="padding: 30px 20px; background: #f9f9f9;">
      <h2>Hello {{.Name}},</h2>
      <p>Thank you for your interest in {{.Brand}}.</p>
      <p>Unfortunately, we are unable to approve your ticket request at this time.</p>
      {{if .Reason}}<p><strong>Reason:</strong> {{.Reason}}</p>{{end}}
      <p>If you have any questions, please reach out.</p>
    </div>
    <div style="padding: 20px; text-align: center; font-size: 12px; color: #666;">
      <p>Contact us at {{.Contact}}</p>
    </div>
  </div>
</body>
</html>`))

type TicketEmail struct {
	Brand     string
	Contact   string
	Venue     string
	Name      string
	EventName string
	SeatTier  string
	Links     []string
}

// Build renders the delivery email. Attachments are added by the caller.
func (e TicketEmail) Build(to string) (Message, error) {
	noun := "ticket"
	if len(e.Links) != 1 {
		noun = "tickets"
	}

	var buf bytes.Buffer
	err := ticketTmpl.Execute(&buf, struct {
		TicketEmail
		Count int
		Noun  string
		Year  int
	}{e, len(e.Links), noun, time.Now().Year()})
	if err != nil {
		return Message{}, fmt.Errorf("mail.TicketEmail.Build: %w", err)
	}

	subject := fmt.Sprintf("Your %s ticket", e.Brand)
	if len(e.Links) != 1 {
		subject += "s"
	}

	return Message{To: to, Subject: subject, HTML: buf.String()}, nil
}

type RejectionEmail struct {
	Brand   string
	Contact string
	Name    string
	Reason  string
}

func (e RejectionEmail) Build(to string) (Message, error) {
	var buf bytes.Buffer
	if err := rejectionTmpl.Execute(&buf, e); err != nil {
		return Message{}, fmt.Errorf("mail.RejectionEmail.Build: %w", err)
	}

	return Message{
		To:      to,
		Subject: e.Brand + " ticket request update",
		HTML:    buf.String(),
	}, nil
}
