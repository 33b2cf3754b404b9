// Package ports holds the contracts of the collaborators the pipeline
// drives but does not implement: platform publishers, login probes, the
// browser-profile backend and content ingestion.
package ports

import (
	"context"

	"pubmatrix/internal/domain"
	"pubmatrix/internal/errors"
)

// ErrConnectivity marks failures to reach the automation backend. Callers
// classify with errors.Is; the mark survives wrapping.
var ErrConnectivity = errors.New("automation backend unreachable")

// Session is a handle on an opened browser profile.
type Session struct {
	LaneID string `json:"lane_id"`
	WS     string `json:"ws,omitempty"`
	HTTP   string `json:"http,omitempty"`
}

// SessionBackend owns the automation sessions. Close is also the forced
// teardown used after a job is abandoned, so it must be safe to call while
// another caller still holds the session.
type SessionBackend interface {
	Open(ctx context.Context, laneID string) (Session, error)
	Close(ctx context.Context, laneID string) error
}

// Publisher publishes one item through one account. A returned error is an
// automation failure; an unsuccessful Outcome is a reported failure.
type Publisher interface {
	Publish(ctx context.Context, item domain.ContentItem, acc domain.Account, s Session) (domain.Outcome, error)
}

type HealthResult struct {
	Status  domain.HealthStatus `json:"status"`
	Message string              `json:"message,omitempty"`
}

type HealthChecker interface {
	CheckLogin(ctx context.Context, acc domain.Account, s Session) (HealthResult, error)
}

type IngestReport struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

// Ingestor produces ready-to-publish items in the repository.
type Ingestor interface {
	Ingest(ctx context.Context) (IngestReport, error)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, item domain.ContentItem, acc domain.Account, s Session) (domain.Outcome, error)

func (f PublisherFunc) Publish(ctx context.Context, item domain.ContentItem, acc domain.Account, s Session) (domain.Outcome, error) {
	return f(ctx, item, acc, s)
}

type HealthCheckerFunc func(ctx context.Context, acc domain.Account, s Session) (HealthResult, error)

func (f HealthCheckerFunc) CheckLogin(ctx context.Context, acc domain.Account, s Session) (HealthResult, error) {
	return f(ctx, acc, s)
}

// NopSessions hands out empty sessions. Used when no backend is configured.
type NopSessions struct{}

func (NopSessions) Open(_ context.Context, laneID string) (Session, error) {
	return Session{LaneID: laneID}, nil
}

func (NopSessions) Close(context.Context, string) error { return nil }
