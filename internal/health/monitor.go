// Package health probes whether each active account can still log in.
//
// Probes run on the lane executor as a batch of kind "health", so they
// share the global lane limit and the per-lane locks with publishing and
// never touch a browser profile another job is using. Only conclusive
// results change the stored account.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"pubmatrix/internal/domain"
	"pubmatrix/internal/errors"
	"pubmatrix/internal/eventbus"
	"pubmatrix/internal/lane"
	"pubmatrix/internal/ports"
	"pubmatrix/internal/storage"
	"pubmatrix/internal/task/engine"
	logx "pubmatrix/pkg/logx"
)

const BatchKind = "health"

type Config struct {
	// ProbeTimeout bounds a single CheckLogin call.
	ProbeTimeout time.Duration
	// Pace is the minimum gap between two probes on the same lane.
	Pace time.Duration
}

func (c Config) withDefaults() Config {
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 2 * time.Minute
	}
	if c.Pace < 0 {
		c.Pace = 0
	}
	return c
}

type AccountResult struct {
	AccountID int64               `json:"account_id"`
	Name      string              `json:"name"`
	LaneID    string              `json:"lane_id"`
	Status    domain.HealthStatus `json:"status"`
	Message   string              `json:"message,omitempty"`
	// Updated is set when the stored account was written.
	Updated bool `json:"updated"`
}

type Report struct {
	BatchID   string          `json:"batch_id"`
	Accounts  []AccountResult `json:"accounts"`
	StartedAt time.Time       `json:"started_at"`
	Took      time.Duration   `json:"took"`
}

func (r Report) Count(st domain.HealthStatus) int {
	n := 0
	for _, a := range r.Accounts {
		if a.Status == st {
			n++
		}
	}
	return n
}

type Monitor struct {
	repo     storage.Repository
	exec     *engine.Service
	sessions ports.SessionBackend
	checker  ports.HealthChecker
	log      logx.Logger
	bus      eventbus.Bus
	now      func() time.Time

	mu  sync.Mutex
	cfg Config
}

func New(cfg Config, repo storage.Repository, exec *engine.Service, sessions ports.SessionBackend, checker ports.HealthChecker, log logx.Logger, bus eventbus.Bus) *Monitor {
	if log.IsZero() {
		log = logx.Nop()
	}
	if sessions == nil {
		sessions = ports.NopSessions{}
	}
	return &Monitor{
		repo:     repo,
		exec:     exec,
		sessions: sessions,
		checker:  checker,
		log:      log.With(logx.String("comp", "health")),
		bus:      eventbus.OrNop(bus),
		now:      time.Now,
		cfg:      cfg.withDefaults(),
	}
}

func (m *Monitor) Apply(cfg Config) {
	m.mu.Lock()
	m.cfg = cfg.withDefaults()
	m.mu.Unlock()
}

func (m *Monitor) config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// probe is the per-pass state shared by the lane goroutines.
type probe struct {
	mu       sync.Mutex
	statuses map[int]ports.HealthResult // by job index
	limiters map[string]*rate.Limiter
}

func (p *probe) limiter(laneID string, pace time.Duration) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.limiters[laneID]
	if !ok {
		lim := rate.Inf
		if pace > 0 {
			lim = rate.Every(pace)
		}
		l = rate.NewLimiter(lim, 1)
		p.limiters[laneID] = l
	}
	return l
}

func (p *probe) set(idx int, r ports.HealthResult) {
	p.mu.Lock()
	p.statuses[idx] = r
	p.mu.Unlock()
}

func (p *probe) get(idx int) (ports.HealthResult, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.statuses[idx]
	return r, ok
}

// Check probes every active account once and returns when all lanes are
// done.
func (m *Monitor) Check(ctx context.Context) (Report, error) {
	if m.checker == nil {
		return Report{}, errors.New("health checker not configured")
	}
	cfg := m.config()
	active := domain.AccountActive
	accounts, err := m.repo.ListAccounts(ctx, storage.AccountFilter{Status: &active})
	if err != nil {
		return Report{}, errors.Wrap(err, "list accounts")
	}

	plan := lane.GroupAccounts(accounts)
	for _, sk := range plan.Skipped {
		m.log.Warn("health.skipped", logx.Int64("account", accounts[sk.Index].ID), logx.String("reason", sk.Reason))
	}

	st := &probe{statuses: map[int]ports.HealthResult{}, limiters: map[string]*rate.Limiter{}}
	results := make([]AccountResult, 0, plan.Len())
	var rmu sync.Mutex

	b := engine.Batch{
		Kind:   BatchKind,
		Queues: plan.Queues,
		Run: func(ctx context.Context, j lane.Job) (domain.Outcome, error) {
			acc := accounts[j.Index]
			if err := st.limiter(j.LaneID, cfg.Pace).Wait(ctx); err != nil {
				return domain.Outcome{}, err
			}
			res, err := m.probeOne(ctx, cfg, acc)
			if err != nil {
				return domain.Outcome{}, err
			}
			st.set(j.Index, res)
			return domain.Outcome{Success: res.Status != domain.HealthInconclusive, Message: string(res.Status)}, nil
		},
		Teardown: func(ctx context.Context, j lane.Job) error {
			return m.sessions.Close(ctx, j.LaneID)
		},
		OnResult: func(r engine.Result) {
			ar := m.settle(ctx, accounts[r.Job.Index], r, st)
			rmu.Lock()
			results = append(results, ar)
			rmu.Unlock()
		},
	}

	started := m.now()
	rep, err := m.exec.Run(ctx, b)
	if err != nil {
		return Report{}, err
	}

	out := Report{BatchID: rep.BatchID, StartedAt: started, Took: m.now().Sub(started)}
	// lane completion order is arbitrary; report in account order
	byID := make(map[int64]AccountResult, len(results))
	for _, ar := range results {
		byID[ar.AccountID] = ar
	}
	for _, acc := range accounts {
		if ar, ok := byID[acc.ID]; ok {
			out.Accounts = append(out.Accounts, ar)
		}
	}

	ev := eventbus.HealthEvent{
		BatchID:      out.BatchID,
		Total:        len(out.Accounts),
		Healthy:      out.Count(domain.HealthHealthy),
		Unhealthy:    out.Count(domain.HealthUnhealthy),
		Inconclusive: out.Count(domain.HealthInconclusive),
		Took:         out.Took,
	}
	m.bus.Publish(eventbus.Event{Type: eventbus.TypeHealthChecked, Time: m.now(), Data: ev})
	m.log.Info("health.checked",
		logx.String("batch_id", out.BatchID),
		logx.Int("total", ev.Total),
		logx.Int("healthy", ev.Healthy),
		logx.Int("unhealthy", ev.Unhealthy),
		logx.Int("inconclusive", ev.Inconclusive),
		logx.Duration("took", out.Took),
	)
	return out, nil
}

// probeOne opens the lane session and asks the checker. The session is
// released only when the account is healthy; otherwise it stays open so an
// operator can look at the page.
func (m *Monitor) probeOne(ctx context.Context, cfg Config, acc domain.Account) (ports.HealthResult, error) {
	sess, err := m.sessions.Open(ctx, lane.LaneOf(acc))
	if err != nil {
		return ports.HealthResult{}, errors.Wrapf(err, "open session for account %d", acc.ID)
	}

	pctx, cancel := context.WithTimeout(ctx, cfg.ProbeTimeout)
	defer cancel()
	res, err := m.checker.CheckLogin(pctx, acc, sess)
	if err != nil {
		return ports.HealthResult{}, err
	}
	res.Status = domain.ParseHealthStatus(string(res.Status))

	if res.Status == domain.HealthHealthy {
		// an abandoned probe no longer owns the lane session
		engine.Held(ctx, func() {
			cctx, ccancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer ccancel()
			if err := m.sessions.Close(cctx, sess.LaneID); err != nil {
				m.log.Warn("health.session.close_failed", logx.String("lane", sess.LaneID), logx.Err(err))
			}
		})
	}
	return res, nil
}

func (m *Monitor) settle(ctx context.Context, acc domain.Account, r engine.Result, st *probe) AccountResult {
	ar := AccountResult{AccountID: acc.ID, Name: acc.Name, LaneID: r.Job.LaneID, Status: domain.HealthInconclusive}

	res, ok := st.get(r.Job.Index)
	switch {
	case r.TimedOut, r.Canceled, r.Err != nil, !ok:
		ar.Message = r.Message
		if r.Err != nil && ar.Message == "" {
			ar.Message = r.Err.Error()
		}
	default:
		ar.Status = res.Status
		ar.Message = res.Message
	}

	log := m.log.With(logx.Int64("account", acc.ID), logx.String("lane", ar.LaneID), logx.String("status", string(ar.Status)))
	if ar.Status == domain.HealthInconclusive {
		log.Warn("health.inconclusive", logx.String("message", ar.Message))
		return ar
	}

	canLogin := ar.Status == domain.HealthHealthy
	at := m.now()
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := m.repo.UpdateAccount(wctx, acc.ID, storage.AccountUpdate{CanLogin: &canLogin, CheckedAt: &at}); err != nil {
		log.Error("health.update_failed", logx.Err(err))
		ar.Message = fmt.Sprintf("%s (not saved: %v)", ar.Message, err)
		return ar
	}
	ar.Updated = true
	if canLogin != acc.CanLogin {
		log.Info("health.changed", logx.Bool("can_login", canLogin))
	} else {
		log.Debug("health.probed")
	}
	return ar
}
