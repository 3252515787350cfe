package poller

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/PaczkoBox/internal/broker/messages"
	"github.com/BearBump/PaczkoBox/internal/integrations/inpost"
	"github.com/BearBump/PaczkoBox/internal/models"
	"github.com/pkg/errors"
)

// Engine runs one poll cycle (see services/engine).
type Engine interface {
	Refresh(ctx context.Context, prior models.CarbonFootprintState) (*models.AccountSnapshot, error)
}

// CredentialSource hands out the current token pair for persistence.
type CredentialSource interface {
	Credential() models.Credential
}

// StateStore persists the credential and carbon state between restarts.
type StateStore interface {
	SaveCredential(ctx context.Context, phoneNumber string, cred models.Credential) error
	SaveCarbonState(ctx context.Context, phoneNumber string, state models.CarbonFootprintState) error
}

// Producer publishes snapshot.updated events.
type Producer interface {
	Publish(ctx context.Context, key, value []byte) error
}

// Poller owns the cadence: one Refresh runs to completion before the next is
// scheduled, the engine never sleeps or schedules itself. On a 429 the poller
// widens its own interval and reports a degraded status instead of blocking.
type Poller struct {
	engine   Engine
	creds    CredentialSource
	store    StateStore
	producer Producer

	phoneNumber string
	interval    time.Duration

	carbon models.CarbonFootprintState

	triggerCh chan struct{}
	snapshot  atomic.Pointer[models.AccountSnapshot]

	startedAtUnixNano int64
	lastCycleUnixNano atomic.Int64
	totalCycles       atomic.Int64
	totalErrors       atomic.Int64
	degradedUntil     atomic.Int64
	needsReauth       atomic.Bool
	lastErrorMu       sync.Mutex
	lastError         string
}

func New(engine Engine, creds CredentialSource, store StateStore, producer Producer, phoneNumber string, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Poller{
		engine:            engine,
		creds:             creds,
		store:             store,
		producer:          producer,
		phoneNumber:       phoneNumber,
		interval:          interval,
		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

// WithCarbonState seeds the prior cumulative state restored by the host.
func (p *Poller) WithCarbonState(state models.CarbonFootprintState) *Poller {
	p.carbon = state
	return p
}

// Trigger forces an immediate poll cycle (best-effort, non-blocking).
func (p *Poller) Trigger() {
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

// Snapshot returns the last completed snapshot, nil before the first cycle.
// Snapshots are immutable; callers must not modify the returned value.
func (p *Poller) Snapshot() *models.AccountSnapshot {
	return p.snapshot.Load()
}

type Stats struct {
	StartedAt   time.Time  `json:"startedAt"`
	LastCycleAt *time.Time `json:"lastCycleAt,omitempty"`
	TotalCycles int64      `json:"totalCycles"`
	TotalErrors int64      `json:"totalErrors"`
	Degraded    bool       `json:"degraded"`
	NeedsReauth bool       `json:"needsReauth"`
	LastError   string     `json:"lastError,omitempty"`
}

func (p *Poller) Stats() Stats {
	st := Stats{
		StartedAt:   time.Unix(0, p.startedAtUnixNano).UTC(),
		TotalCycles: p.totalCycles.Load(),
		TotalErrors: p.totalErrors.Load(),
		Degraded:    time.Now().UTC().UnixNano() < p.degradedUntil.Load(),
		NeedsReauth: p.needsReauth.Load(),
	}
	if n := p.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	p.lastErrorMu.Lock()
	st.LastError = p.lastError
	p.lastErrorMu.Unlock()
	return st
}

func (p *Poller) Run(ctx context.Context) error {
	t := time.NewTicker(p.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if time.Now().UTC().UnixNano() < p.degradedUntil.Load() {
				continue // widened interval while rate limited
			}
			p.runOnce(ctx)
		case <-p.triggerCh:
			p.runOnce(ctx)
		}
	}
}

func (p *Poller) runOnce(ctx context.Context) {
	now := time.Now().UTC()
	p.lastCycleUnixNano.Store(now.UnixNano())
	p.totalCycles.Add(1)

	snap, err := p.engine.Refresh(ctx, p.carbon)
	if err != nil {
		p.recordError(err)
		p.publish(ctx, nil, err)
		return
	}

	p.carbon = snap.Carbon
	p.snapshot.Store(snap)
	p.needsReauth.Store(false)
	p.setLastError("")

	p.persist(ctx)
	p.publish(ctx, snap, nil)
}

func (p *Poller) recordError(err error) {
	p.totalErrors.Add(1)
	p.setLastError(err.Error())

	var rl *inpost.RateLimitedError
	switch {
	case errors.As(err, &rl):
		backoff := rl.RetryAfter
		if backoff <= 0 {
			backoff = 2 * p.interval
		}
		p.degradedUntil.Store(time.Now().UTC().Add(backoff).UnixNano())
		slog.Warn("carrier rate limited, widening poll interval", "backoff", backoff.String())
	case errors.Is(err, inpost.ErrReauthenticationRequired):
		// Fatal to the session, not to the process: keep ticking so the
		// status surface shows the account needs a new setup flow.
		p.needsReauth.Store(true)
		slog.Error("refresh token rejected, account needs re-setup", "phone", p.phoneNumber)
	default:
		slog.Error("poll cycle failed", "phone", p.phoneNumber, "error", err.Error())
	}
}

func (p *Poller) setLastError(msg string) {
	p.lastErrorMu.Lock()
	p.lastError = msg
	p.lastErrorMu.Unlock()
}

// persist is best-effort: a storage hiccup must not lose the in-memory state
// or fail the cycle, the next cycle retries.
func (p *Poller) persist(ctx context.Context) {
	if p.store == nil {
		return
	}
	if err := p.store.SaveCredential(ctx, p.phoneNumber, p.creds.Credential()); err != nil {
		slog.Error("persist credential", "error", err.Error())
	}
	if err := p.store.SaveCarbonState(ctx, p.phoneNumber, p.carbon); err != nil {
		slog.Error("persist carbon state", "error", err.Error())
	}
}

func (p *Poller) publish(ctx context.Context, snap *models.AccountSnapshot, cycleErr error) {
	if p.producer == nil {
		return
	}

	msg := messages.SnapshotUpdated{
		PhoneNumber: p.phoneNumber,
		CheckedAt:   time.Now().UTC(),
	}
	if snap != nil {
		msg.AllCount = snap.AllCount
		msg.EnRouteCount = snap.EnRouteCount
		msg.ReadyCount = snap.ReadyCount
		msg.CarbonTotalKg = snap.Carbon.CumulativeTotalKg
		msg.TodayCarbonKg = snap.TodayCarbonKg
	}
	if cycleErr != nil {
		e := cycleErr.Error()
		msg.Error = &e
	}

	b, err := json.Marshal(msg)
	if err != nil {
		slog.Error("marshal snapshot message", "error", err.Error())
		return
	}
	if err := p.producer.Publish(ctx, []byte(p.phoneNumber), b); err != nil {
		slog.Error("publish snapshot message", "error", err.Error())
	}
}
