package httpgin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/kirinyoku/tix-gate/internal/auth"
	"github.com/kirinyoku/tix-gate/internal/domain"
	redisx "github.com/kirinyoku/tix-gate/internal/redis"
	redisrepo "github.com/kirinyoku/tix-gate/internal/repository/redis"
	"github.com/kirinyoku/tix-gate/internal/service/approval"
	"github.com/kirinyoku/tix-gate/internal/service/catalog"
	"github.com/kirinyoku/tix-gate/internal/service/intake"
	"github.com/kirinyoku/tix-gate/internal/service/redemption"
	"github.com/kirinyoku/tix-gate/internal/sheets"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

type Redeemer interface {
	Redeem(ctx context.Context, presented, scanner string) (redemption.Result, error)
}

type Approver interface {
	Approve(ctx context.Context, id uuid.UUID, reviewerID string) (*domain.PurchaseRequest, []domain.Ticket, error)
	Reject(ctx context.Context, id uuid.UUID, reviewerID, reason string) (*domain.PurchaseRequest, error)
}

type Catalog interface {
	Search(ctx context.Context, f domain.TicketFilter) (domain.Page[domain.Ticket], error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Ticket, error)
	PDF(ctx context.Context, id uuid.UUID) ([]byte, string, error)
	Cancel(ctx context.Context, id uuid.UUID, actorID string) (*domain.Ticket, error)
	ExpireEvent(ctx context.Context, eventName, actorID string) (int, error)
	Resend(ctx context.Context, id uuid.UUID, actorID string) error
	Stats(ctx context.Context) (domain.Stats, error)
	RecentRedemptions(ctx context.Context, limit int) ([]domain.Redemption, error)
}

type Intake interface {
	Sync(ctx context.Context, actorID string) (intake.SyncResult, error)
	ListRequests(ctx context.Context, f domain.RequestFilter) (domain.Page[domain.PurchaseRequest], error)
	GetRequest(ctx context.Context, id uuid.UUID) (*domain.PurchaseRequest, error)
}

type AuditLog interface {
	List(ctx context.Context, entity, entityID string, limit int) ([]domain.AuditEntry, error)
}

// Monitor streams ticket events to live scan monitors.
type Monitor interface {
	Subscribe(ctx context.Context, handler func(ctx context.Context, ev domain.TicketEvent)) error
}

type Handlers struct {
	Redemption Redeemer
	Approval   Approver
	Catalog    Catalog
	Intake     Intake
	Audit      AuditLog
}

type Options struct {
	// AppURL is the scanner front-end that /r/:token redirects to.
	AppURL string
	// TrustedProxies may set X-Forwarded-For. Nil trusts no one, so the
	// client IP is always the socket peer.
	TrustedProxies []string
	Verifier       *auth.Verifier
	Limiter        Limiter
	Idem           *redisrepo.IdempotencyStore
	Monitor        Monitor
	// StreamsDone is closed when the server shuts down and ends open
	// monitor streams.
	StreamsDone <-chan struct{}
	Metrics     http.Handler
	// Ready reports whether the backing stores are reachable.
	Ready func(ctx context.Context) error
}

const streamKeepAlive = 20 * time.Second

func NewRouter(
	h Handlers,
	opts Options,
	logger *slog.Logger,
	middlewares ...gin.HandlerFunc,
) *gin.Engine {
	r := gin.New()
	if err := r.SetTrustedProxies(opts.TrustedProxies); err != nil {
		logger.Error("invalid trusted proxies, trusting none", "err", err)
		_ = r.SetTrustedProxies(nil)
	}

	r.Use(gin.Recovery(), RequestIDMiddleware(), LoggingMiddleware(logger), CORS())
	for _, m := range middlewares {
		if m != nil {
			r.Use(m)
		}
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	r.GET("/health", handleHealth(nil))
	r.GET("/healthz", handleHealth(opts.Ready))
	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	r.GET("/r/:token", handleRedeemLink(opts.AppURL))

	api := r.Group("/api")
	{
		redeem := []gin.HandlerFunc{OptionalAuth(opts.Verifier)}
		if opts.Limiter != nil {
			redeem = append(redeem, RateLimit(opts.Limiter, "redeem", logger))
		}
		api.POST("/redeem", append(redeem, handleRedeem(h.Redemption))...)

		api.GET("/redemptions", handleRecentRedemptions(h.Catalog))
		if opts.Monitor != nil {
			api.GET("/redemptions/stream", handleRedemptionStream(opts.Monitor, opts.StreamsDone))
		}
		api.GET("/tickets/:id/pdf", handleTicketPDF(h.Catalog))
	}

	staff := api.Group("", StaffAuth(opts.Verifier))
	{
		staff.GET("/tickets", handleListTickets(h.Catalog))
		staff.GET("/tickets/:id", handleGetTicket(h.Catalog))
		staff.POST("/tickets/:id/resend", handleResendTicket(h.Catalog))
		staff.POST("/tickets/:id/cancel", handleCancelTicket(h.Catalog))

		admin := staff.Group("/admin")
		admin.POST("/sync-google", handleSync(h.Intake))
		admin.GET("/requests", handleListRequests(h.Intake))
		admin.GET("/requests/:id", handleGetRequest(h.Intake))
		admin.POST("/requests/:id/approve", handleApprove(h.Approval, opts.Idem, logger))
		admin.POST("/requests/:id/reject", handleReject(h.Approval))
		admin.GET("/stats", handleStats(h.Catalog))
		admin.POST("/events/expire", handleExpireEvent(h.Catalog))
		admin.GET("/audit", handleListAudit(h.Audit))
	}

	return r
}

func handleHealth(ready func(ctx context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ready != nil {
			if err := ready(c.Request.Context()); err != nil {
				c.Error(err)
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
	}
}

// @Summary  Open a ticket QR link in the scanner
// @Param    token  path  string  true  "Ticket token"
// @Success  302
// @Router   /r/{token} [get]
func handleRedeemLink(appURL string) gin.HandlerFunc {
	base := strings.TrimRight(appURL, "/")
	return func(c *gin.Context) {
		token := strings.TrimSpace(c.Param("token"))
		c.Redirect(http.StatusFound, base+"/scan?token="+url.QueryEscape(token))
	}
}

// @Summary  Redeem a ticket
// @Description Admits a ticket at most once. Every business outcome is a 200 with success=false and a reason.
// @Param    req  body  RedeemRequest  true  "payload"
// @Success  200  {object}  RedeemResponse
// @Failure  400  {object}  ErrorResponse
// @Failure  429  {object}  ErrorResponse  "rate limited"
// @Failure  500  {object}  RedeemResponse
// @Router   /api/redeem [post]
func handleRedeem(svc Redeemer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RedeemRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "token is required")
			return
		}

		scanner := c.ClientIP()
		if claims := staffFrom(c); claims != nil {
			scanner = "staff:" + claims.Subject
		}

		res, err := svc.Redeem(c.Request.Context(), req.Token, scanner)
		if err != nil {
			c.Error(err)
			c.JSON(http.StatusInternalServerError, RedeemResponse{
				Success: false,
				Message: "Server error during redemption",
				Reason:  redemption.ReasonError,
			})
			return
		}

		c.JSON(http.StatusOK, newRedeemResponse(res))
	}
}

// @Summary  Recent redemptions (masked)
// @Param    limit  query  int  false  "max rows"
// @Success  200  {object}  RedemptionsResponse
// @Router   /api/redemptions [get]
func handleRecentRedemptions(svc Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := svc.RecentRedemptions(c.Request.Context(), parseIntDefault(c.Query("limit"), 0))
		if err != nil {
			respondErr(c, err)
			return
		}
		writeJSONWithCache(c, RedemptionsResponse{Data: list}, "private, max-age=2")
	}
}

// @Summary  Live redemption feed
// @Produce  text/event-stream
// @Success  200
// @Router   /api/redemptions/stream [get]
func handleRedemptionStream(m Monitor, shutdown <-chan struct{}) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithCancel(c.Request.Context())
		defer cancel()

		evs := make(chan domain.TicketEvent, 32)
		go func() {
			_ = m.Subscribe(ctx, func(_ context.Context, ev domain.TicketEvent) {
				if ev.Type != domain.EventTicketRedeemed {
					return
				}
				// slow clients miss events rather than stall the subscriber
				select {
				case evs <- ev:
				default:
				}
			})
		}()

		c.Header("Cache-Control", "no-cache")
		c.Header("X-Accel-Buffering", "no")

		keepAlive := time.NewTicker(streamKeepAlive)
		defer keepAlive.Stop()

		c.Stream(func(io.Writer) bool {
			select {
			case <-ctx.Done():
				return false
			case <-shutdown:
				return false
			case ev := <-evs:
				c.SSEvent(ev.Type, ev)
				return true
			case <-keepAlive.C:
				c.SSEvent("ping", gin.H{"at": time.Now().UTC()})
				return true
			}
		})
	}
}

// @Summary  Download a ticket PDF
// @Param    id  path  string  true  "Ticket ID (uuid)"
// @Produce  application/pdf
// @Success  200
// @Failure  404  {object}  ErrorResponse
// @Router   /api/tickets/{id}/pdf [get]
func handleTicketPDF(svc Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}
		b, name, err := svc.PDF(c.Request.Context(), id)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.Header("Content-Disposition", `inline; filename="`+name+`"`)
		c.Data(http.StatusOK, "application/pdf", b)
	}
}

// @Summary  Search tickets
// @Security BearerAuth
// @Param    status  query  string  false  "valid | redeemed | cancelled | expired"
// @Param    q       query  string  false  "name, email or id"
// @Param    limit   query  int     false  "page size"
// @Param    offset  query  int     false  "offset"
// @Success  200  {object}  domain.Page[domain.Ticket]
// @Router   /api/tickets [get]
func handleListTickets(svc Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := domain.TicketStatus(c.Query("status"))
		if status != "" && !status.Valid() {
			badRequest(c, "invalid status")
			return
		}
		page, err := svc.Search(c.Request.Context(), domain.TicketFilter{
			Status: status,
			Search: strings.TrimSpace(c.Query("q")),
			Limit:  parseIntDefault(c.Query("limit"), 0),
			Offset: parseIntDefault(c.Query("offset"), 0),
		})
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, page)
	}
}

// @Summary  Get ticket
// @Security BearerAuth
// @Param    id  path  string  true  "Ticket ID (uuid)"
// @Success  200  {object}  domain.Ticket
// @Failure  404  {object}  ErrorResponse
// @Router   /api/tickets/{id} [get]
func handleGetTicket(svc Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}
		t, err := svc.Get(c.Request.Context(), id)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, t)
	}
}

// @Summary  Resend a ticket email
// @Security BearerAuth
// @Param    id  path  string  true  "Ticket ID (uuid)"
// @Success  200  {object}  MessageResponse
// @Failure  404  {object}  ErrorResponse
// @Failure  502  {object}  ErrorResponse
// @Router   /api/tickets/{id}/resend [post]
func handleResendTicket(svc Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}
		if err := svc.Resend(c.Request.Context(), id, staffID(c)); err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, MessageResponse{Message: "Ticket email sent"})
	}
}

// @Summary  Cancel a ticket
// @Security BearerAuth
// @Param    id  path  string  true  "Ticket ID (uuid)"
// @Success  200  {object}  domain.Ticket
// @Failure  404  {object}  ErrorResponse
// @Failure  409  {object}  ErrorResponse
// @Router   /api/tickets/{id}/cancel [post]
func handleCancelTicket(svc Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}
		t, err := svc.Cancel(c.Request.Context(), id, staffID(c))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, t)
	}
}

// @Summary  Import new rows from the intake spreadsheet
// @Security BearerAuth
// @Success  200  {object}  SyncResponse
// @Failure  503  {object}  ErrorResponse
// @Router   /api/admin/sync-google [post]
func handleSync(svc Intake) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := svc.Sync(c.Request.Context(), staffID(c))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, SyncResponse{Count: res.Fetched, Inserted: res.Inserted, LastRow: res.LastRow})
	}
}

// @Summary  List purchase requests
// @Security BearerAuth
// @Param    status  query  string  false  "pending_review | approved | rejected"
// @Param    q       query  string  false  "name or email"
// @Param    limit   query  int     false  "page size"
// @Param    offset  query  int     false  "offset"
// @Success  200  {object}  domain.Page[domain.PurchaseRequest]
// @Router   /api/admin/requests [get]
func handleListRequests(svc Intake) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := domain.RequestStatus(c.Query("status"))
		if status != "" && !status.Valid() {
			badRequest(c, "invalid status")
			return
		}
		page, err := svc.ListRequests(c.Request.Context(), domain.RequestFilter{
			Status: status,
			Search: strings.TrimSpace(c.Query("q")),
			Limit:  parseIntDefault(c.Query("limit"), 0),
			Offset: parseIntDefault(c.Query("offset"), 0),
		})
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, page)
	}
}

// @Summary  Get purchase request
// @Security BearerAuth
// @Param    id  path  string  true  "Request ID (uuid)"
// @Success  200  {object}  domain.PurchaseRequest
// @Failure  404  {object}  ErrorResponse
// @Router   /api/admin/requests/{id} [get]
func handleGetRequest(svc Intake) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}
		p, err := svc.GetRequest(c.Request.Context(), id)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

// @Summary  Approve a purchase request and issue tickets (idempotent)
// @Security BearerAuth
// @Param    id  path  string  true  "Request ID (uuid)"
// @Param    Idempotency-Key  header  string  false  "replays the first response"
// @Success  200  {object}  ApproveResponse
// @Failure  404  {object}  ErrorResponse
// @Failure  409  {object}  ErrorResponse  "already processed / idem in progress"
// @Router   /api/admin/requests/{id}/approve [post]
func handleApprove(svc Approver, idem *redisrepo.IdempotencyStore, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}
		ctx := c.Request.Context()

		idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
		var storageKey string
		if idem != nil && idemKey != "" {
			storageKey = redisx.KeyIdemApprove(id.String(), idemKey)

			state, payload, err := idem.Begin(ctx, storageKey)
			switch {
			case err != nil:
				// proceed without replay; the request transition still
				// refuses a second approval
				logger.WarnContext(ctx, "idempotency store unavailable", "err", err)
				storageKey = ""
			case state == redisrepo.IdemDone:
				c.Header("Idempotency-Key", idemKey)
				c.Header("Idempotent-Replayed", "true")
				c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(payload))
				return
			case state == redisrepo.IdemInFlight:
				c.Header("Retry-After", "1")
				c.JSON(http.StatusConflict, ErrorResponse{Error: "idempotency key in progress"})
				return
			}
		}

		req, tickets, err := svc.Approve(ctx, id, staffID(c))
		if err != nil {
			if storageKey != "" {
				_ = idem.Abandon(context.WithoutCancel(ctx), storageKey)
			}
			respondErr(c, err)
			return
		}

		resp := ApproveResponse{Request: req, Tickets: tickets}
		if storageKey != "" {
			b, _ := json.Marshal(resp)
			if err := idem.Complete(context.WithoutCancel(ctx), storageKey, string(b)); err != nil {
				logger.WarnContext(ctx, "store idempotent response", "err", err)
			}
			c.Header("Idempotency-Key", idemKey)
		}

		c.JSON(http.StatusOK, resp)
	}
}

// @Summary  Reject a purchase request
// @Security BearerAuth
// @Param    id   path  string         true   "Request ID (uuid)"
// @Param    req  body  RejectRequest  false  "payload"
// @Success  200  {object}  RejectResponse
// @Failure  404  {object}  ErrorResponse
// @Failure  409  {object}  ErrorResponse
// @Router   /api/admin/requests/{id}/reject [post]
func handleReject(svc Approver) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}
		var body RejectRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&body); err != nil {
				badRequest(c, "invalid body")
				return
			}
		}
		req, err := svc.Reject(c.Request.Context(), id, staffID(c), strings.TrimSpace(body.Reason))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, RejectResponse{Request: req})
	}
}

// @Summary  Dashboard counters
// @Security BearerAuth
// @Success  200  {object}  domain.Stats
// @Router   /api/admin/stats [get]
func handleStats(svc Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		st, err := svc.Stats(c.Request.Context())
		if err != nil {
			respondErr(c, err)
			return
		}
		writeJSONWithCache(c, st, "private, max-age=5")
	}
}

// @Summary  Expire every valid ticket of an event
// @Security BearerAuth
// @Param    req  body  ExpireEventRequest  true  "payload"
// @Success  200  {object}  ExpireEventResponse
// @Failure  400  {object}  ErrorResponse
// @Router   /api/admin/events/expire [post]
func handleExpireEvent(svc Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ExpireEventRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "event_name is required")
			return
		}
		n, err := svc.ExpireEvent(c.Request.Context(), req.EventName, staffID(c))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, ExpireEventResponse{EventName: strings.TrimSpace(req.EventName), Expired: n})
	}
}

// @Summary  Audit trail
// @Security BearerAuth
// @Param    entity     query  string  false  "tickets | purchase_requests"
// @Param    entity_id  query  string  false  "entity id"
// @Param    limit      query  int     false  "max rows"
// @Success  200  {object}  AuditResponse
// @Router   /api/admin/audit [get]
func handleListAudit(svc AuditLog) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := svc.List(
			c.Request.Context(),
			c.Query("entity"),
			c.Query("entity_id"),
			parseIntDefault(c.Query("limit"), 0),
		)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, AuditResponse{Data: list})
	}
}

// --- Helpers ---

func staffID(c *gin.Context) string {
	if claims := staffFrom(c); claims != nil {
		return claims.Subject
	}
	return ""
}

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	v, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return v, true
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

// respondErr maps service errors to status codes. Anything unrecognised is
// a 500 whose detail only reaches the log.
func respondErr(c *gin.Context, err error) {
	if err == nil {
		c.Status(http.StatusNoContent)
		return
	}

	switch {
	// purchase requests
	case errors.Is(err, approval.ErrRequestNotFound), errors.Is(err, intake.ErrRequestNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "purchase request not found"})
	case errors.Is(err, approval.ErrRequestAlreadyProcessed):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "purchase request already processed"})
	case errors.Is(err, approval.ErrTokenCollision):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusConflict, ErrorResponse{Error: "ticket issuance conflict, please retry"})
	// tickets
	case errors.Is(err, catalog.ErrTicketNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "ticket not found"})
	case errors.Is(err, catalog.ErrTicketNotCancellable):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "only valid tickets can be cancelled"})
	case errors.Is(err, catalog.ErrEventNameRequired):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "event_name is required"})
	case errors.Is(err, catalog.ErrDeliveryFailed):
		c.Error(err)
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: "ticket delivery failed"})
	// intake
	case errors.Is(err, intake.ErrSourceNotConfigured), errors.Is(err, sheets.ErrNotConfigured):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "spreadsheet sync is not configured"})
	case errors.Is(err, sheets.ErrAccessDenied):
		c.Error(err)
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: "spreadsheet access denied; share it with the service account"})
	case errors.Is(err, sheets.ErrNotFound):
		c.Error(err)
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: "spreadsheet not found"})
	default:
		c.Error(err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}
