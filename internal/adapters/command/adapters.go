package command

import (
	"context"
	"strings"

	"pubmatrix/internal/domain"
	"pubmatrix/internal/errors"
	"pubmatrix/internal/ports"
	logx "pubmatrix/pkg/logx"
)

type publishRequest struct {
	Item    domain.ContentItem `json:"item"`
	Account domain.Account     `json:"account"`
	Session ports.Session      `json:"session"`
}

type publishResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Publishers dispatches to one executable per platform type.
type Publishers struct {
	specs map[string]Spec
	log   logx.Logger
}

var _ ports.Publisher = (*Publishers)(nil)

func NewPublishers(specs map[string]Spec, log logx.Logger) *Publishers {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := make(map[string]Spec, len(specs))
	for k, v := range specs {
		m[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return &Publishers{specs: m, log: log.With(logx.String("comp", "publisher"))}
}

func (p *Publishers) Publish(ctx context.Context, item domain.ContentItem, acc domain.Account, s ports.Session) (domain.Outcome, error) {
	spec, ok := p.specs[strings.ToLower(strings.TrimSpace(acc.PlatformType))]
	if !ok {
		return domain.Outcome{}, errors.Newf("no publisher for platform %s", acc.PlatformType)
	}
	var resp publishResponse
	if err := call(ctx, p.log, spec, publishRequest{Item: item, Account: acc, Session: s}, &resp); err != nil {
		return domain.Outcome{}, err
	}
	return domain.Outcome{Success: resp.Success, Message: resp.Message}, nil
}

type healthRequest struct {
	Account domain.Account `json:"account"`
	Session ports.Session  `json:"session"`
}

// HealthChecker probes login state. Any process or protocol failure is an
// inconclusive reading, never an unhealthy one.
type HealthChecker struct {
	spec Spec
	log  logx.Logger
}

var _ ports.HealthChecker = (*HealthChecker)(nil)

func NewHealthChecker(spec Spec, log logx.Logger) *HealthChecker {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &HealthChecker{spec: spec, log: log.With(logx.String("comp", "health-probe"))}
}

func (h *HealthChecker) CheckLogin(ctx context.Context, acc domain.Account, s ports.Session) (ports.HealthResult, error) {
	var resp struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := call(ctx, h.log, h.spec, healthRequest{Account: acc, Session: s}, &resp); err != nil {
		return ports.HealthResult{Status: domain.HealthInconclusive, Message: err.Error()}, nil
	}
	return ports.HealthResult{Status: domain.ParseHealthStatus(resp.Status), Message: resp.Message}, nil
}

// Ingestor runs the content ingestion executable.
type Ingestor struct {
	spec Spec
	log  logx.Logger
}

var _ ports.Ingestor = (*Ingestor)(nil)

func NewIngestor(spec Spec, log logx.Logger) *Ingestor {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Ingestor{spec: spec, log: log.With(logx.String("comp", "ingest"))}
}

func (i *Ingestor) Ingest(ctx context.Context) (ports.IngestReport, error) {
	var rep ports.IngestReport
	if i.spec.Empty() {
		return rep, nil
	}
	err := call(ctx, i.log, i.spec, struct{}{}, &rep)
	return rep, err
}
