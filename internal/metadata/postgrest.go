package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/supabase-community/postgrest-go"

	"github.com/MrWong99/captionsync/internal/resilience"
	"github.com/MrWong99/captionsync/pkg/caption"
)

// PostgRESTConfig locates the metadata tables behind a PostgREST (e.g.
// Supabase) endpoint.
type PostgRESTConfig struct {
	// URL is the project URL; "/rest/v1" is appended.
	URL string

	// APIKey is sent as apikey and bearer token. May be empty for open
	// endpoints.
	APIKey string

	// SessionsTable defaults to "sessions".
	SessionsTable string

	// CaptionsTable defaults to "captions".
	CaptionsTable string

	// Breaker tunes the circuit breaker around every request.
	Breaker resilience.CircuitBreakerConfig
}

// PostgREST is a [Service] backed by PostgREST. Requests go through a
// circuit breaker; unknown sessions do not count as failures.
type PostgREST struct {
	client        *postgrest.Client
	breaker       *resilience.CircuitBreaker
	sessionsTable string
	captionsTable string
}

var _ Service = (*PostgREST)(nil)

// NewPostgREST creates a client for cfg.
func NewPostgREST(cfg PostgRESTConfig) (*PostgREST, error) {
	if cfg.URL == "" {
		return nil, errors.New("metadata: postgrest URL is required")
	}
	headers := map[string]string{}
	if cfg.APIKey != "" {
		headers["apikey"] = cfg.APIKey
		headers["Authorization"] = "Bearer " + cfg.APIKey
	}
	client := postgrest.NewClient(strings.TrimSuffix(cfg.URL, "/")+"/rest/v1", "", headers)
	if client.ClientError != nil {
		return nil, fmt.Errorf("metadata: create postgrest client: %w", client.ClientError)
	}

	breakerCfg := cfg.Breaker
	if breakerCfg.Name == "" {
		breakerCfg.Name = "metadata"
	}
	if breakerCfg.IsFailure == nil {
		breakerCfg.IsFailure = func(err error) bool { return !errors.Is(err, ErrUnknownSession) }
	}

	p := &PostgREST{
		client:        client,
		breaker:       resilience.NewCircuitBreaker(breakerCfg),
		sessionsTable: cfg.SessionsTable,
		captionsTable: cfg.CaptionsTable,
	}
	if p.sessionsTable == "" {
		p.sessionsTable = "sessions"
	}
	if p.captionsTable == "" {
		p.captionsTable = "captions"
	}
	return p, nil
}

// Breaker exposes the circuit breaker, e.g. for readiness checks.
func (p *PostgREST) Breaker() *resilience.CircuitBreaker {
	return p.breaker
}

// Status implements [Service].
func (p *PostgREST) Status(ctx context.Context, sessionID string) (SessionInfo, error) {
	return resilience.Call(ctx, p.breaker, func(context.Context) (SessionInfo, error) {
		body, _, err := p.client.From(p.sessionsTable).
			Select("*", "", false).
			Eq("id", sessionID).
			Execute()
		if err != nil {
			return SessionInfo{}, fmt.Errorf("metadata: fetch session %s: %w", sessionID, err)
		}

		var rows []SessionInfo
		if err := json.Unmarshal(body, &rows); err != nil {
			return SessionInfo{}, fmt.Errorf("metadata: decode session %s: %w", sessionID, err)
		}
		if len(rows) == 0 {
			return SessionInfo{}, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
		}
		return rows[0], nil
	})
}

// Captions implements [Service]. Segments failing validation are skipped.
func (p *PostgREST) Captions(ctx context.Context, sessionID string) ([]caption.Segment, error) {
	return resilience.Call(ctx, p.breaker, func(context.Context) ([]caption.Segment, error) {
		var rows []caption.Segment
		_, err := p.client.From(p.captionsTable).
			Select("*", "", false).
			Eq("session_id", sessionID).
			Order("start_time", &postgrest.OrderOpts{Ascending: true}).
			ExecuteTo(&rows)
		if err != nil {
			return nil, fmt.Errorf("metadata: fetch captions for %s: %w", sessionID, err)
		}

		out := make([]caption.Segment, 0, len(rows))
		for _, s := range rows {
			if err := s.Validate(); err != nil {
				slog.Warn("metadata: skipping invalid archived caption",
					"session_id", sessionID, "caption_id", s.ID, "err", err)
				continue
			}
			out = append(out, s)
		}
		return out, nil
	})
}
