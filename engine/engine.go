// Package engine executes validated flows: topological scheduling, parallel
// and foreach fan-out, conditional skipping, retries, pause/resume on events
// and timers, and catch-block handling.
package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/awantoch/beemflow/adapter"
	"github.com/awantoch/beemflow/config"
	"github.com/awantoch/beemflow/dsl"
	"github.com/awantoch/beemflow/event"
	"github.com/awantoch/beemflow/model"
	"github.com/awantoch/beemflow/pkg/errors"
	"github.com/awantoch/beemflow/storage"
	"github.com/awantoch/beemflow/templater"
	"github.com/awantoch/beemflow/utils"
)

// Engine drives runs. The adapter registry, storage, and event bus are
// shared across runs; per-run state lives in the traversal.
type Engine struct {
	Adapters  *adapter.Registry
	Templater *templater.Templater
	Bus       event.Bus
	Store     storage.Storage

	cfg    config.EngineConfig
	tracer trace.Tracer

	subMu      sync.Mutex
	subscribed map[string]bool
	subCtx     context.Context

	stopScanner context.CancelFunc
	wg          sync.WaitGroup

	// AddServers is called with a flow's mcpServers before execution when
	// MCP is configured. Satisfied by mcp.Manager.
	MCP interface {
		AddServers(servers map[string]model.MCPServerConfig)
	}
}

// Result is the outcome of Execute or Resume. Token is set only when the
// run suspended.
type Result struct {
	RunID   uuid.UUID
	Status  model.RunStatus
	Outputs map[string]any
	Token   string
}

// New builds an engine from explicit dependencies.
func New(adapters *adapter.Registry, bus event.Bus, store storage.Storage, cfg config.EngineConfig) *Engine {
	if cfg.InlineWaitMaxSec == 0 {
		cfg.InlineWaitMaxSec = 10
	}
	if cfg.TickMs == 0 {
		cfg.TickMs = 1000
	}
	return &Engine{
		Adapters:   adapters,
		Templater:  templater.New(),
		Bus:        bus,
		Store:      store,
		cfg:        cfg,
		tracer:     otel.Tracer("beemflow/engine"),
		subscribed: map[string]bool{},
		subCtx:     context.Background(),
	}
}

// NewDefault builds an in-memory engine: core adapters, gochannel bus,
// memory storage. The configuration tests and one-shot CLI runs use.
func NewDefault() *Engine {
	return New(adapter.NewRegistry(nil, nil), event.NewInMemoryBus(), storage.NewMemory(), config.EngineConfig{})
}

// Start rehydrates subscriptions for already-paused runs and starts the
// timer scanner. Call Close to stop.
func (e *Engine) Start(ctx context.Context) error {
	e.subCtx = ctx
	paused, err := e.Store.ListPausedRuns(ctx)
	if err != nil {
		return err
	}
	for _, p := range paused {
		if p.Kind == model.WaitEvent {
			if err := e.ensureSubscribed(p.Source); err != nil {
				return err
			}
		}
	}
	pausedRuns.Set(float64(len(paused)))

	scanCtx, cancel := context.WithCancel(ctx)
	e.stopScanner = cancel
	e.wg.Add(1)
	go e.scanWaits(scanCtx)
	return nil
}

// Close stops the timer scanner and waits for in-flight wakes.
func (e *Engine) Close() error {
	if e.stopScanner != nil {
		e.stopScanner()
	}
	e.wg.Wait()
	return nil
}

// Execute starts a new run of the flow with the given trigger event and
// drives it until it completes or suspends.
func (e *Engine) Execute(ctx context.Context, ef *dsl.ExecutableFlow, eventData map[string]any) (*Result, error) {
	flow := ef.Flow
	if e.MCP != nil && len(flow.MCPServers) > 0 {
		e.MCP.AddServers(flow.MCPServers)
	}
	run := &model.Run{
		ID:        uuid.New(),
		FlowName:  flow.Name,
		Event:     eventData,
		Vars:      flow.Vars,
		Status:    model.RunRunning,
		StartedAt: utils.NowMillis(),
	}
	previous := e.previousRun(ctx, flow.Name)
	if err := e.Store.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	runsStarted.Inc()
	utils.Info("run %s of flow %q started", run.ID, flow.Name)

	rs := newRunState(e, ef, run, eventData, flow.Vars, previous)
	return e.drive(ctx, rs)
}

// Resume wakes the paused run holding token, binding payload under event.
// Unknown or already-claimed tokens are validation errors.
func (e *Engine) Resume(ctx context.Context, token string, payload map[string]any) (*Result, error) {
	paused, err := e.Store.ClaimPausedRun(ctx, token)
	if err != nil {
		return nil, err
	}
	if paused == nil {
		return nil, errors.Validation("no paused run for token %s", token)
	}
	return e.resume(ctx, paused, payload, false)
}

// resume rebuilds the traversal from a claimed continuation. timedOut marks
// an event wait woken by its deadline instead of a matching event.
func (e *Engine) resume(ctx context.Context, paused *model.PausedRun, payload map[string]any, timedOut bool) (*Result, error) {
	pausedRuns.Dec()
	ef, err := dsl.Validate(paused.Flow)
	if err != nil {
		return nil, err
	}
	run := &model.Run{
		ID:       paused.RunID,
		FlowName: paused.FlowName,
		Event:    paused.Event,
		Vars:     paused.Vars,
		Status:   model.RunRunning,
	}
	rs := newRunState(e, ef, run, paused.Event, paused.Vars, nil)
	if paused.Outputs != nil {
		rs.outputs = paused.Outputs
	}
	if paused.Done != nil {
		rs.done = paused.Done
	}

	if timedOut {
		ev := cloneMap(paused.Event)
		ev["timeout"] = true
		rs.event = ev
		run.Event = ev
		rs.recordResumedStep(ctx, paused.StepKey, model.StepFailed, nil, "await_event timed out")
		rs.done[paused.StepKey] = model.StepFailed
		if err := e.Store.UpdateRunStatus(ctx, run.ID, model.RunRunning, nil); err != nil {
			return nil, err
		}
		stepErr := errors.Timeout("await_event %s timed out", paused.StepKey).WithStep(paused.StepKey)
		return e.finish(ctx, rs, stepErr)
	}

	switch paused.Kind {
	case model.WaitEvent:
		if payload == nil {
			payload = map[string]any{}
		}
		rs.event = payload
		run.Event = payload
		rs.done[paused.StepKey] = model.StepSucceeded
		rs.outputs[paused.StepKey] = payload
		rs.recordResumedStep(ctx, paused.StepKey, model.StepSucceeded, payload, "")
	case model.WaitTimer:
		rs.done[paused.StepKey] = model.StepSucceeded
		rs.recordResumedStep(ctx, paused.StepKey, model.StepSucceeded, nil, "")
	}
	if err := e.Store.UpdateRunStatus(ctx, run.ID, model.RunRunning, nil); err != nil {
		return nil, err
	}
	utils.Info("run %s resumed at %s", run.ID, paused.StepKey)
	return e.drive(ctx, rs)
}

// drive walks the top-level scope and settles the run: suspend, catch, or
// terminal status.
func (e *Engine) drive(ctx context.Context, rs *runState) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "flow.run",
		trace.WithAttributes(
			attribute.String("flow.name", rs.flow.Name),
			attribute.String("run.id", rs.run.ID.String()),
		))
	defer span.End()

	err := rs.walkScope(ctx, "", rs.flow.Steps, nil, rs.newView(), "")

	var susp *suspension
	if stderrors.As(err, &susp) {
		return e.suspend(ctx, rs, susp)
	}
	return e.finish(ctx, rs, err)
}

// suspend persists the continuation, registers the wake condition, and
// leaves the run paused.
func (e *Engine) suspend(ctx context.Context, rs *runState, susp *suspension) (*Result, error) {
	token := uuid.NewString()
	paused := &model.PausedRun{
		RunID:    rs.run.ID,
		FlowName: rs.flow.Name,
		Flow:     rs.flow,
		Token:    token,
		Kind:     susp.kind,
		StepKey:  susp.key,
		Source:   susp.source,
		Match:    susp.match,
		WakeAt:   susp.wakeAt,
		Event:    rs.event,
		Vars:     rs.vars,
		Outputs:  rs.outputs,
		Done:     rs.done,
	}
	if err := e.Store.SavePausedRun(ctx, paused); err != nil {
		return nil, err
	}
	if susp.wakeAt > 0 {
		if err := e.Store.SaveWait(ctx, token, susp.wakeAt); err != nil {
			return nil, err
		}
	}
	if susp.kind == model.WaitEvent {
		if err := e.ensureSubscribed(susp.source); err != nil {
			return nil, err
		}
	}
	if err := e.Store.UpdateRunStatus(ctx, rs.run.ID, model.RunPaused, nil); err != nil {
		return nil, err
	}
	pausedRuns.Inc()
	utils.Info("run %s paused at %s (token %s)", rs.run.ID, susp.key, token)
	return &Result{RunID: rs.run.ID, Status: model.RunPaused, Outputs: rs.outputs, Token: token}, nil
}

// finish runs the catch sequence on failure and writes the terminal status.
func (e *Engine) finish(ctx context.Context, rs *runState, runErr error) (*Result, error) {
	if runErr != nil && len(rs.flow.Catch) > 0 {
		if err := e.Store.UpdateRunStatus(ctx, rs.run.ID, model.RunCatching, nil); err != nil {
			utils.Warn("run %s: record catching: %v", rs.run.ID, err)
		}
		e.runCatch(ctx, rs, runErr)
	}
	status := model.RunSucceeded
	if runErr != nil {
		status = model.RunFailed
	}
	ended := utils.NowMillis()
	if err := e.Store.UpdateRunStatus(ctx, rs.run.ID, status, &ended); err != nil {
		utils.Warn("run %s: record terminal status: %v", rs.run.ID, err)
	}
	runsCompleted.WithLabelValues(string(status)).Inc()
	if rs.run.StartedAt > 0 {
		runDuration.Observe(float64(ended-rs.run.StartedAt) / 1000)
	}
	if runErr != nil {
		utils.Info("run %s failed: %v", rs.run.ID, runErr)
		return &Result{RunID: rs.run.ID, Status: status, Outputs: rs.outputs}, runErr
	}
	utils.Info("run %s succeeded", rs.run.ID)
	return &Result{RunID: rs.run.ID, Status: status, Outputs: rs.outputs}, nil
}

// runCatch executes the catch sequence with the error bound in context.
// A suspension inside catch aborts it; the run is already failing.
func (e *Engine) runCatch(ctx context.Context, rs *runState, runErr error) {
	binding := map[string]any{"message": runErr.Error(), "step_id": "", "type": ""}
	if fe, ok := errors.As(runErr); ok {
		binding["message"] = fe.Message
		binding["step_id"] = fe.StepID
		binding["type"] = string(fe.Kind)
	}
	locals := map[string]any{"error": binding}
	if err := rs.walkScope(ctx, "catch", rs.flow.Catch, locals, rs.newView(), ""); err != nil {
		utils.Warn("run %s: catch sequence aborted: %v", rs.run.ID, err)
	}
}

// Publish forwards an event to the bus; paused runs waiting on the topic
// wake through the engine's subscription.
func (e *Engine) Publish(topic string, payload map[string]any) error {
	return e.Bus.Publish(topic, payload)
}

// ensureSubscribed installs a single bus subscription per awaited source.
func (e *Engine) ensureSubscribed(source string) error {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	if e.subscribed[source] {
		return nil
	}
	if err := e.Bus.Subscribe(e.subCtx, source, func(payload any) {
		data, _ := payload.(map[string]any)
		e.wakeMatching(source, data)
	}); err != nil {
		return err
	}
	e.subscribed[source] = true
	return nil
}

// wakeMatching resumes every paused event-wait on source whose match
// predicate is satisfied by the payload. Claims make each wake exclusive.
func (e *Engine) wakeMatching(source string, payload map[string]any) {
	ctx := e.subCtx
	paused, err := e.Store.ListPausedRuns(ctx)
	if err != nil {
		utils.Error("scan paused runs for %s: %v", source, err)
		return
	}
	for _, p := range paused {
		if p.Kind != model.WaitEvent || p.Source != source {
			continue
		}
		if !matchSatisfied(p.Match, payload) {
			continue
		}
		claimed, err := e.Store.ClaimPausedRun(ctx, p.Token)
		if err != nil {
			utils.Error("claim %s: %v", p.Token, err)
			continue
		}
		if claimed == nil {
			continue
		}
		e.wg.Add(1)
		go func(c *model.PausedRun) {
			defer e.wg.Done()
			if _, err := e.resume(ctx, c, payload, false); err != nil {
				utils.Error("resume %s: %v", c.Token, err)
			}
		}(claimed)
	}
}

// scanWaits polls for due wake-ups: timer waits continue normally, event
// waits whose deadline passed wake once with a timeout indication.
func (e *Engine) scanWaits(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(time.Duration(e.cfg.TickMs) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		due, err := e.Store.ListWaitsDue(ctx, utils.NowMillis())
		if err != nil {
			utils.Error("scan waits: %v", err)
			continue
		}
		for _, token := range due {
			claimed, err := e.Store.ClaimPausedRun(ctx, token)
			if err != nil {
				utils.Error("claim %s: %v", token, err)
				continue
			}
			if claimed == nil {
				// Wait row without a continuation; clean it up.
				if err := e.Store.DeleteWait(ctx, token); err != nil {
					utils.Warn("delete stale wait %s: %v", token, err)
				}
				continue
			}
			timedOut := claimed.Kind == model.WaitEvent
			e.wg.Add(1)
			go func(c *model.PausedRun, timedOut bool) {
				defer e.wg.Done()
				if _, err := e.resume(ctx, c, nil, timedOut); err != nil {
					utils.Error("wake %s: %v", c.Token, err)
				}
			}(claimed, timedOut)
		}
	}
}

// previousRun builds the runs.previous binding from the most recent run of
// the flow. Called before the new run is created, so no exclusion needed.
func (e *Engine) previousRun(ctx context.Context, flowName string) map[string]any {
	r, err := e.Store.GetLatestRun(ctx, flowName)
	if err != nil || r == nil {
		return nil
	}
	return map[string]any{
		"id":      r.ID.String(),
		"status":  string(r.Status),
		"outputs": orEmpty(r.Outputs),
	}
}

// matchSatisfied reports whether every match key (dotted paths allowed)
// equals the same-path value in the payload.
func matchSatisfied(match map[string]any, payload map[string]any) bool {
	for key, want := range match {
		got, ok := lookupPath(payload, key)
		if !ok || fmt.Sprintf("%v", got) != fmt.Sprintf("%v", want) {
			return false
		}
	}
	return true
}

func lookupPath(m map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = m
	for _, p := range parts {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}
