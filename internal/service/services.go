package service

import (
	"context"
	"log/slog"

	"github.com/kirinyoku/tix-gate/internal/delivery"
	"github.com/kirinyoku/tix-gate/internal/events"
	"github.com/kirinyoku/tix-gate/internal/render"
	postgresrepo "github.com/kirinyoku/tix-gate/internal/repository/postgres"
	redisrepo "github.com/kirinyoku/tix-gate/internal/repository/redis"
	"github.com/kirinyoku/tix-gate/internal/service/approval"
	"github.com/kirinyoku/tix-gate/internal/service/audit"
	"github.com/kirinyoku/tix-gate/internal/service/catalog"
	"github.com/kirinyoku/tix-gate/internal/service/intake"
	"github.com/kirinyoku/tix-gate/internal/service/redemption"
	"github.com/kirinyoku/tix-gate/internal/uow"
)

type Services struct {
	Redemption *redemption.Engine
	Approval   *approval.Service
	Catalog    *catalog.Service
	Intake     *intake.Service
	Audit      *audit.Sink
}

type Config struct {
	Catalog catalog.Config
}

// Deps are the adapters the services are built on. Source may be nil when
// no spreadsheet is configured.
type Deps struct {
	Store      *postgresrepo.Store
	Cache      *redisrepo.Cache
	Events     *events.Bus
	Dispatcher *delivery.Dispatcher
	Renderer   *render.Renderer
	Source     intake.Source
	Logger     *slog.Logger
}

func NewServices(d Deps, cfg Config) *Services {
	auditSink := audit.New(d.Store.Audit(), d.Logger)
	tickets := d.Store.Tickets()
	requests := d.Store.Requests()

	approvals := uow.New[approval.Tx](func(ctx context.Context, fn func(ctx context.Context, tx approval.Tx) error) error {
		return d.Store.InTx(ctx, func(ctx context.Context, tx *postgresrepo.Tx) error {
			return fn(ctx, tx)
		})
	})

	return &Services{
		Redemption: redemption.New(tickets, auditSink, d.Events, d.Cache, d.Logger),
		Approval:   approval.New(approvals, requests, auditSink, d.Events, d.Cache, d.Dispatcher, d.Logger),
		Catalog: catalog.New(
			tickets, requests, d.Cache, d.Renderer, d.Dispatcher, auditSink, d.Events, d.Logger, cfg.Catalog,
		),
		Intake: intake.New(d.Source, requests, d.Store.State(), auditSink, d.Cache, d.Logger),
		Audit:  auditSink,
	}
}
