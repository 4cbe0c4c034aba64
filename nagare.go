// Package nagare is the public API for embedding the Nagare event
// reconciliation engine.
//
// The engine live-tails a run/step event stream into a consistent
// materialized view:
//
//	eng, err := nagare.New(
//	    nagare.WithBaseURL("http://localhost:8080"),
//	    nagare.WithLogger(logger),
//	)
//	if err != nil { ... }
//	if err := eng.Start(ctx); err != nil { ... }
//	defer eng.Stop(context.Background())
//
//	sub := eng.SubscribeRuns(func(runs []nagare.Run) { ... })
//	defer sub.Cancel()
//
// The import graph enforces a strict no-cycle rule: nagare (root) imports
// internal/*, but internal/* never imports nagare (root). Public types
// (Run, Step, Envelope, ...) are standalone structs with no internal
// imports; conversion helpers live here because this is the only file that
// sees both sides of the boundary.
package nagare

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/nagare/internal/bus"
	"github.com/ashita-ai/nagare/internal/config"
	"github.com/ashita-ai/nagare/internal/materialize"
	"github.com/ashita-ai/nagare/internal/model"
	"github.com/ashita-ai/nagare/internal/readmodel"
	"github.com/ashita-ai/nagare/internal/sequence"
	"github.com/ashita-ai/nagare/internal/stream"
	"github.com/ashita-ai/nagare/internal/telemetry"
	"github.com/ashita-ai/nagare/internal/wire"
)

var (
	// ErrAlreadyStarted is returned by Start on a running engine.
	ErrAlreadyStarted = errors.New("nagare: engine already started")

	// ErrUnknownRun is returned by Run for an id the view has never seen
	// (or has evicted).
	ErrUnknownRun = errors.New("nagare: unknown run")
)

// input is one unit of work for the reconcile loop. Exactly one field is
// set: a live payload, a backfill page, or a connectivity change. Routing
// everything through one channel keeps the pipeline single-threaded and
// totally ordered.
type input struct {
	live []byte
	page []json.RawMessage
	conn *model.Connectivity
}

// Engine is the event reconciliation engine lifecycle. Construct with
// New(), run with Start(), tear down with Stop(). Engine has no public
// fields — use New() options to configure it. Multiple independent engines
// may run in one process.
type Engine struct {
	cfg     config.Config
	logger  *slog.Logger
	version string

	decoder      *wire.Decoder
	sequencer    *sequence.Sequencer
	materializer *materialize.Materializer
	bus          *bus.Bus
	backfill     *stream.BackfillClient
	commands     *stream.CommandClient
	poller       *readmodel.Poller
	supervisor   *stream.Supervisor
	metrics      *telemetry.PipelineMetrics
	otelShutdown telemetry.Shutdown

	in chan input

	connMu sync.RWMutex
	conn   model.Connectivity

	mu      sync.Mutex
	started bool
	runCtx  context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// New initialises the engine: loads configuration, initialises telemetry,
// and wires the pipeline. It does NOT start any goroutines or open any
// connections — call Start().
func New(opts ...Option) (*Engine, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.configFile != "" {
		if err := cfg.ApplyFile(o.configFile); err != nil {
			return nil, err
		}
	}
	if o.baseURL != "" {
		cfg.BaseURL = o.baseURL
	}
	if o.backfillLimit > 0 {
		cfg.BackfillLimit = o.backfillLimit
	}
	if o.dedupCapacity > 0 {
		cfg.DedupCapacity = o.dedupCapacity
	}
	if o.eventLogCap > 0 {
		cfg.EventLogCap = o.eventLogCap
	}
	if o.runCapSet {
		cfg.RunCap = o.runCap
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	version := o.version
	if version == "" {
		version = "dev"
	}
	logger.Info("nagare starting", "version", version, "base_url", cfg.BaseURL, "transport", cfg.Transport)

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	metrics, err := telemetry.NewPipelineMetrics()
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	// The live stream is long-lived; it needs a client without an overall
	// timeout.
	streamClient := &http.Client{Transport: httpClient.Transport}

	var transport stream.Transport
	switch {
	case o.transport != nil:
		transport = transportAdapter{t: o.transport}
	case cfg.Transport == "websocket":
		transport = stream.NewWSTransport(cfg.BaseURL, nil)
	default:
		transport = stream.NewSSETransport(cfg.BaseURL, streamClient)
	}

	var policy stream.ReconnectPolicy
	switch {
	case o.reconnectPolicy != nil:
		policy = o.reconnectPolicy
	case cfg.ReconnectFixed:
		policy = stream.FixedDelay{Delay: cfg.ReconnectBaseDelay}
	default:
		policy = stream.NewExponentialPolicy(cfg.ReconnectBaseDelay, cfg.ReconnectMaxDelay)
	}

	e := &Engine{
		cfg:          cfg,
		logger:       logger,
		version:      version,
		decoder:      wire.NewDecoder(),
		sequencer:    sequence.New(cfg.DedupCapacity),
		materializer: materialize.New(logger, cfg.EventLogCap, cfg.RunCap),
		bus:          bus.New(logger),
		backfill:     stream.NewBackfillClient(cfg.BaseURL, httpClient, cfg.BackfillTimeout),
		commands:     stream.NewCommandClient(cfg.BaseURL, httpClient, logger),
		poller:       readmodel.NewPoller(cfg.BaseURL, httpClient, logger, cfg.PollInterval, cfg.HistoryLimit),
		metrics:      metrics,
		otelShutdown: otelShutdown,
		in:           make(chan input, 256),
		conn:         model.Connectivity{State: model.ConnDisconnected},
	}
	e.supervisor = stream.NewSupervisor(transport, policy, logger, e.onMessage, e.onConnectivity)
	return e, nil
}

// Start launches the pipeline: the one-shot backfill fetch, the supervised
// live transport, the read-model pollers, and the reconcile loop. It
// returns immediately; cancelling ctx stops the engine as if Stop were
// called.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	e.started = true
	e.runCtx = gctx
	e.cancel = cancel
	e.group = g
	e.mu.Unlock()

	g.Go(func() error { return e.reconcileLoop(gctx) })
	g.Go(func() error { return e.poller.Run(gctx) })
	g.Go(func() error {
		// Seed the view from history before live streaming begins. Backfill
		// failure is non-fatal: the engine starts empty and relies on live
		// data alone. A later reconnect never re-fetches backfill.
		page, err := e.backfill.Fetch(gctx, e.cfg.BackfillLimit)
		if err != nil {
			e.logger.Warn("nagare: backfill unavailable, starting with empty view", "error", err)
		} else if len(page) > 0 {
			e.enqueue(gctx, input{page: page})
		}
		return e.supervisor.Run(gctx)
	})
	return nil
}

// Stop tears the engine down: it cancels the in-flight backfill if not yet
// resolved, any pending reconnect wait, and the live connection, then waits
// for the pipeline to drain (bounded by ctx). Stop is idempotent and safe
// to call multiple times.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = false
	cancel := e.cancel
	g := e.group
	e.mu.Unlock()

	cancel()
	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("nagare: stop: %w", ctx.Err())
	}
	return e.otelShutdown(ctx)
}

// onMessage feeds one live raw payload into the reconcile loop. Invoked
// from the supervisor goroutine.
func (e *Engine) onMessage(data []byte) {
	e.enqueue(e.runContext(), input{live: data})
}

// onConnectivity feeds a connectivity change into the reconcile loop so it
// is ordered with event processing.
func (e *Engine) onConnectivity(c model.Connectivity) {
	if c.State == model.ConnDisconnected {
		e.metrics.Reconnect(context.Background())
	}
	e.enqueue(e.runContext(), input{conn: &c})
}

func (e *Engine) runContext() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.runCtx != nil {
		return e.runCtx
	}
	return context.Background()
}

func (e *Engine) enqueue(ctx context.Context, in input) {
	select {
	case e.in <- in:
	case <-ctx.Done():
	}
}

// reconcileLoop is the single goroutine that runs the whole
// decode → dedup → fold → notify pipeline. Everything it touches is applied
// fully before subscribers see it; partial application is never observable.
func (e *Engine) reconcileLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case in := <-e.in:
			switch {
			case in.conn != nil:
				e.setConnectivity(*in.conn)
				e.bus.NotifyConnectivity(*in.conn)
			case in.page != nil:
				envs, dropped := e.decoder.DecodeBackfill(in.page)
				if dropped > 0 {
					e.metrics.DecodeError(ctx, int64(dropped))
					e.logger.Warn("nagare: backfill items dropped", "dropped", dropped)
				}
				e.process(ctx, envs)
			case in.live != nil:
				env, err := e.decoder.DecodeLive(in.live)
				if err != nil {
					e.metrics.DecodeError(ctx, 1)
					e.logger.Debug("nagare: live event dropped", "error", err)
					continue
				}
				e.process(ctx, []model.Envelope{env})
			}
		}
	}
}

func (e *Engine) process(ctx context.Context, envs []model.Envelope) {
	if len(envs) == 0 {
		return
	}
	dupsBefore := e.sequencer.Duplicates()
	admitted := e.sequencer.Admit(envs)
	if dups := e.sequencer.Duplicates() - dupsBefore; dups > 0 {
		e.metrics.Duplicate(ctx, dups)
	}
	if len(admitted) == 0 {
		return
	}
	e.metrics.Decoded(ctx, int64(len(admitted)))

	anomsBefore := e.materializer.AnomalyCount()
	delta := e.materializer.Apply(admitted)
	if anoms := e.materializer.AnomalyCount() - anomsBefore; anoms > 0 {
		e.metrics.Anomaly(ctx, anoms)
	}
	if !delta.Empty() {
		e.bus.NotifyDelta(delta, e.materializer.Runs(), e.materializer.Run)
	}
}

func (e *Engine) setConnectivity(c model.Connectivity) {
	e.connMu.Lock()
	e.conn = c
	e.connMu.Unlock()
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

// Runs returns snapshots of all runs in discovery order.
func (e *Engine) Runs() []Run {
	return toPublicRuns(e.materializer.Runs())
}

// Run returns one run's snapshot, or ErrUnknownRun.
func (e *Engine) Run(id string) (Run, error) {
	run, ok := e.materializer.Run(id)
	if !ok {
		return Run{}, fmt.Errorf("%w: %s", ErrUnknownRun, id)
	}
	return toPublicRun(run), nil
}

// Connectivity returns the current transport health signal.
func (e *Engine) Connectivity() Connectivity {
	e.connMu.RLock()
	defer e.connMu.RUnlock()
	return Connectivity{State: ConnState(e.conn.State), ReconnectAttempt: e.conn.ReconnectAttempt}
}

// Anomalies returns the retained rejected-transition records and the total
// count (which keeps counting past the retention cap).
func (e *Engine) Anomalies() ([]Anomaly, int64) {
	records, total := e.materializer.Anomalies()
	out := make([]Anomaly, len(records))
	for i, a := range records {
		out[i] = Anomaly{
			RunID:    a.RunID,
			StepID:   a.StepID,
			From:     Status(a.From),
			To:       Status(a.To),
			Sequence: a.Sequence,
			At:       a.At,
		}
	}
	return out, total
}

// ProviderHealth returns the cached provider health read model.
func (e *Engine) ProviderHealth() ProviderHealth {
	snap := e.poller.Health()
	out := ProviderHealth{FetchedAt: snap.FetchedAt, Providers: make([]ProviderStatus, len(snap.Providers))}
	for i, p := range snap.Providers {
		out.Providers[i] = ProviderStatus(p)
	}
	return out
}

// CallHistory returns the cached provider call history read model.
func (e *Engine) CallHistory() CallHistory {
	snap := e.poller.History()
	out := CallHistory{FetchedAt: snap.FetchedAt, Calls: make([]CallRecord, len(snap.Calls))}
	for i, c := range snap.Calls {
		out.Calls[i] = CallRecord(c)
	}
	return out
}

// Command sends one fire-and-forget command (pause, resume, cancel, rerun)
// to the execution backend. Unknown verbs are logged and ignored.
func (e *Engine) Command(ctx context.Context, runID, verb string, payload map[string]any) error {
	if err := e.commands.Send(ctx, runID, verb, payload); err != nil {
		return err
	}
	e.metrics.Command(ctx, verb)
	return nil
}

// ---------------------------------------------------------------------------
// Subscriptions
// ---------------------------------------------------------------------------

// Subscription is a handle on one bus registration. Cancel is idempotent.
type Subscription struct {
	id  uuid.UUID
	bus *bus.Bus
}

// Cancel removes the subscription. Safe to call multiple times.
func (s Subscription) Cancel() {
	if s.bus != nil {
		s.bus.Unsubscribe(s.id)
	}
}

// SubscribeRuns delivers the full run list after every batch that changed
// any run. The callback runs on the reconcile goroutine — it must not
// block, and it must not call back into the engine's Stop.
func (e *Engine) SubscribeRuns(fn func(runs []Run)) Subscription {
	id := e.bus.SubscribeRuns(func(runs []model.Run) {
		fn(toPublicRuns(runs))
	})
	return Subscription{id: id, bus: e.bus}
}

// SubscribeRun delivers one run's detail after every batch that changed it.
func (e *Engine) SubscribeRun(runID string, fn func(run Run)) Subscription {
	id := e.bus.SubscribeRun(runID, func(run model.Run) {
		fn(toPublicRun(run))
	})
	return Subscription{id: id, bus: e.bus}
}

// SubscribeConnectivity delivers transport health changes.
func (e *Engine) SubscribeConnectivity(fn func(c Connectivity)) Subscription {
	id := e.bus.SubscribeConnectivity(func(c model.Connectivity) {
		fn(Connectivity{State: ConnState(c.State), ReconnectAttempt: c.ReconnectAttempt})
	})
	return Subscription{id: id, bus: e.bus}
}

// ---------------------------------------------------------------------------
// Reconnect policies
// ---------------------------------------------------------------------------

// FixedReconnectDelay is the constant-delay reconnect policy observed in
// the original dashboard (5 seconds there). Use with WithReconnectPolicy.
func FixedReconnectDelay(d time.Duration) ReconnectPolicy {
	return stream.FixedDelay{Delay: d}
}

// ---------------------------------------------------------------------------
// Internal adapters and conversions
// ---------------------------------------------------------------------------

// transportAdapter bridges the public Transport interface to the internal
// one. Conn's method sets are identical, so only Open needs wrapping.
type transportAdapter struct {
	t Transport
}

func (a transportAdapter) Name() string { return a.t.Name() }

func (a transportAdapter) Open(ctx context.Context) (stream.Conn, error) {
	return a.t.Open(ctx)
}

func toPublicRuns(runs []model.Run) []Run {
	out := make([]Run, len(runs))
	for i := range runs {
		out[i] = toPublicRun(runs[i])
	}
	return out
}

func toPublicRun(r model.Run) Run {
	out := Run{
		ID:         r.ID,
		Type:       RunType(r.Type),
		Status:     Status(r.Status),
		StartedAt:  r.StartedAt,
		EndedAt:    r.EndedAt,
		DurationMs: r.DurationMs,
		Steps:      make([]Step, len(r.Steps)),
		Events:     make([]Envelope, len(r.Events)),
	}
	for i, s := range r.Steps {
		out.Steps[i] = Step{
			ID:         s.ID,
			Name:       s.Name,
			Status:     Status(s.Status),
			StartedAt:  s.StartedAt,
			EndedAt:    s.EndedAt,
			DurationMs: s.DurationMs,
			ToolUsed:   s.ToolUsed,
			ModelUsed:  s.ModelUsed,
			Inputs:     s.Inputs,
			Outputs:    s.Outputs,
		}
	}
	for i, ev := range r.Events {
		out.Events[i] = Envelope{
			Version:   ev.Version,
			Sequence:  ev.Sequence,
			Timestamp: ev.Timestamp,
			RunID:     ev.RunID,
			StepID:    ev.StepID,
			Type:      EventType(ev.Type),
			Payload:   ev.Payload,
			Explain:   ev.Explain,
		}
	}
	return out
}
