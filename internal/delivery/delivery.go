// Package delivery sends ticket and rejection emails off the request path.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/kirinyoku/tix-gate/internal/domain"
	"github.com/kirinyoku/tix-gate/internal/mail"
	"github.com/kirinyoku/tix-gate/internal/metrics"
	"github.com/kirinyoku/tix-gate/internal/render"
)

var ErrQueueFull = errors.New("delivery queue is full")

type Kind string

const (
	KindTickets   Kind = "tickets"
	KindRejection Kind = "rejection"
)

type Job struct {
	Kind      Kind
	RequestID uuid.UUID
	To        string
	Name      string
	Phone     string
	Tickets   []domain.Ticket
	Reason    string
}

type Config struct {
	Workers   int
	QueueSize int
	Brand     string
	Contact   string
	Venue     string
}

// Dispatcher is a bounded queue drained by a fixed set of workers. A job
// that fails is logged and dropped; staff can resend from the catalog.
type Dispatcher struct {
	cfg      Config
	log      *slog.Logger
	sender   mail.Sender
	renderer *render.Renderer
	jobs     chan Job
}

func NewDispatcher(cfg Config, sender mail.Sender, renderer *render.Renderer, log *slog.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}

	return &Dispatcher{
		cfg:      cfg,
		log:      log.With("component", "delivery"),
		sender:   sender,
		renderer: renderer,
		jobs:     make(chan Job, cfg.QueueSize),
	}
}

// Enqueue never blocks.
func (d *Dispatcher) Enqueue(job Job) error {
	select {
	case d.jobs <- job:
		metrics.SetDeliveryQueue(len(d.jobs))
		return nil
	default:
		return ErrQueueFull
	}
}

// Run starts the workers and blocks until ctx is done. Jobs still queued
// at shutdown are drained before returning.
func (d *Dispatcher) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for range d.cfg.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.work(ctx)
		}()
	}

	<-ctx.Done()
	wg.Wait()

	for {
		select {
		case job := <-d.jobs:
			d.handle(context.WithoutCancel(ctx), job)
		default:
			return nil
		}
	}
}

func (d *Dispatcher) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-d.jobs:
			metrics.SetDeliveryQueue(len(d.jobs))
			d.handle(ctx, job)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, job Job) {
	err := d.Deliver(ctx, job)
	metrics.Delivery(string(job.Kind), err == nil)
	if err != nil {
		d.log.ErrorContext(ctx, "delivery failed",
			"kind", job.Kind,
			"request_id", job.RequestID,
			"to", job.To,
			"err", err,
		)
		return
	}
	d.log.InfoContext(ctx, "delivered", "kind", job.Kind, "request_id", job.RequestID)
}

// Deliver renders and sends job synchronously.
func (d *Dispatcher) Deliver(ctx context.Context, job Job) error {
	const op = "delivery.Dispatcher.Deliver"

	var (
		msg mail.Message
		err error
	)
	switch job.Kind {
	case KindTickets:
		msg, err = d.ticketMessage(job)
	case KindRejection:
		msg, err = mail.RejectionEmail{
			Brand:   d.cfg.Brand,
			Contact: d.cfg.Contact,
			Name:    job.Name,
			Reason:  job.Reason,
		}.Build(job.To)
	default:
		err = fmt.Errorf("unknown job kind %q", job.Kind)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := d.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (d *Dispatcher) ticketMessage(job Job) (mail.Message, error) {
	if len(job.Tickets) == 0 {
		return mail.Message{}, errors.New("no tickets")
	}

	first := job.Tickets[0]
	links := make([]string, 0, len(job.Tickets))
	atts := make([]mail.Attachment, 0, len(job.Tickets))
	for _, t := range job.Tickets {
		pdf, err := d.renderer.TicketPDF(t, job.Phone)
		if err != nil {
			return mail.Message{}, err
		}
		atts = append(atts, mail.Attachment{
			Name:     d.renderer.FileName(t),
			MIMEType: "application/pdf",
			Data:     pdf,
		})
		links = append(links, d.renderer.PDFURL(t.ID))
	}

	msg, err := mail.TicketEmail{
		Brand:     d.cfg.Brand,
		Contact:   d.cfg.Contact,
		Venue:     d.cfg.Venue,
		Name:      first.PurchaserName,
		EventName: first.EventName,
		SeatTier:  first.SeatTier,
		Links:     links,
	}.Build(job.To)
	if err != nil {
		return mail.Message{}, err
	}
	msg.Attachments = atts

	return msg, nil
}
