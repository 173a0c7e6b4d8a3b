package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/kirinyoku/tix-gate/internal/domain"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"
)

var (
	ErrNotConfigured = errors.New("spreadsheet source is not configured")
	ErrAccessDenied  = errors.New("service account has no access to the spreadsheet")
	ErrNotFound      = errors.New("spreadsheet or sheet not found")
)

type Config struct {
	SpreadsheetID   string
	CredentialsJSON string
	CredentialsFile string
	Range           string
	DefaultEvent    string
	MaxQuantity     int
}

type Source interface {
	NewRows(ctx context.Context, lastRow int) ([]domain.SheetRow, error)
}

type GoogleSource struct {
	svc *sheetsapi.Service
	cfg Config
}

// NewGoogleSource connects with service-account credentials and read-only
// scope.
func NewGoogleSource(ctx context.Context, cfg Config) (*GoogleSource, error) {
	const op = "sheets.NewGoogleSource"

	if cfg.SpreadsheetID == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrNotConfigured)
	}

	opts := []option.ClientOption{option.WithScopes(sheetsapi.SpreadsheetsReadonlyScope)}
	switch {
	case cfg.CredentialsJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	default:
		return nil, fmt.Errorf("%s: %w", op, ErrNotConfigured)
	}

	svc, err := sheetsapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &GoogleSource{svc: svc, cfg: cfg}, nil
}

func (s *GoogleSource) NewRows(ctx context.Context, lastRow int) ([]domain.SheetRow, error) {
	const op = "sheets.GoogleSource.NewRows"

	resp, err := s.svc.Spreadsheets.Values.Get(s.cfg.SpreadsheetID, s.cfg.Range).Context(ctx).Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) {
			switch gerr.Code {
			case http.StatusForbidden:
				return nil, fmt.Errorf("%s: %w", op, ErrAccessDenied)
			case http.StatusNotFound, http.StatusBadRequest:
				return nil, fmt.Errorf("%s: %w: %s", op, ErrNotFound, gerr.Message)
			}
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return ParseRows(resp.Values, lastRow, ParseOptions{
		DefaultEvent: s.cfg.DefaultEvent,
		MaxQuantity:  s.cfg.MaxQuantity,
	}), nil
}
