package engine

import (
	"context"
	stderrors "errors"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/awantoch/beemflow/dsl"
	"github.com/awantoch/beemflow/graph"
	"github.com/awantoch/beemflow/model"
	"github.com/awantoch/beemflow/pkg/errors"
	"github.com/awantoch/beemflow/utils"
)

// suspension signals that a step wants to pause the run. It propagates as
// an error out of the traversal; the orchestrator persists the continuation.
type suspension struct {
	key    string
	kind   model.WaitKind
	source string
	match  map[string]any
	wakeAt int64
}

func (s *suspension) Error() string {
	return "run suspended at " + s.key
}

// runState is the mutable per-run traversal state. Outputs and the done-set
// are shared across concurrently dispatched steps and guarded by mu.
type runState struct {
	eng      *Engine
	flow     *model.Flow
	scopes   func(path string) *graph.DAG
	run      *model.Run
	event    map[string]any
	vars     map[string]any
	previous map[string]any
	env      map[string]any

	mu      sync.Mutex
	outputs map[string]any
	done    map[string]model.StepStatus
	sem     chan struct{}
}

func newRunState(e *Engine, ef *dsl.ExecutableFlow, run *model.Run, eventData, vars, previous map[string]any) *runState {
	rs := &runState{
		eng:      e,
		flow:     ef.Flow,
		scopes:   ef.ScopeDAG,
		run:      run,
		event:    eventData,
		vars:     vars,
		previous: previous,
		env:      envMap(),
		outputs:  map[string]any{},
		done:     map[string]model.StepStatus{},
	}
	if e.cfg.MaxParallel > 0 {
		rs.sem = make(chan struct{}, e.cfg.MaxParallel)
	}
	return rs
}

func envMap() map[string]any {
	out := map[string]any{}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			out[k] = v
		}
	}
	return out
}

// newView starts a scope-local namespace of bare step ids.
func (rs *runState) newView() map[string]any {
	return map[string]any{}
}

// context assembles the template context for one evaluation point.
func (rs *runState) context(locals, view map[string]any) map[string]any {
	rs.mu.Lock()
	merged := make(map[string]any, len(rs.outputs)+len(view))
	for k, v := range rs.outputs {
		merged[k] = v
	}
	for k, v := range view {
		merged[k] = v
	}
	rs.mu.Unlock()

	data := map[string]any{
		"vars":    orEmpty(rs.vars),
		"env":     rs.env,
		"secrets": rs.env,
		"event":   orEmpty(rs.event),
		"outputs": merged,
		"runs":    map[string]any{"previous": rs.previous},
	}
	for k, v := range locals {
		data[k] = v
	}
	return data
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// publish records a step instance's outputs: globally under its instance
// key and scope-locally under its bare id.
func (rs *runState) publish(key, bare string, outputs map[string]any, view map[string]any) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.done[key] = model.StepSucceeded
	if outputs != nil {
		rs.outputs[key] = outputs
		view[bare] = outputs
	}
}

func (rs *runState) markDone(key string, status model.StepStatus) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.done[key] = status
}

func (rs *runState) doneStatus(key string) (model.StepStatus, bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	status, ok := rs.done[key]
	return status, ok
}

// walkScope schedules one scope layer by layer. flat forces every step into
// a single concurrent wave (parallel blocks). A layer's steps all settle
// before errors or suspensions propagate; the first suspension in node
// order wins, hard errors win over suspensions.
func (rs *runState) walkScope(ctx context.Context, path string, steps []model.Step, locals, view map[string]any, suffix string) error {
	return rs.walk(ctx, path, steps, locals, view, suffix, false)
}

func (rs *runState) walk(ctx context.Context, path string, steps []model.Step, locals, view map[string]any, suffix string, flat bool) error {
	dag := rs.scopes(path)
	if dag == nil {
		return errors.Validation("no dependency graph for scope %q", path)
	}
	index := make(map[string]*model.Step, len(steps))
	for i := range steps {
		index[steps[i].ID] = &steps[i]
	}
	layers := dag.Layers
	if flat {
		layers = [][]string{dag.Nodes}
	}
	for _, layer := range layers {
		if err := ctx.Err(); err != nil {
			return errors.Adapter("run aborted: %v", err)
		}
		results := make([]error, len(layer))
		var wg sync.WaitGroup
		for i, id := range layer {
			step := index[id]
			wg.Add(1)
			go func(i int, step *model.Step) {
				defer wg.Done()
				results[i] = rs.dispatch(ctx, step, path, locals, view, suffix)
			}(i, step)
		}
		wg.Wait()
		if err := settle(results); err != nil {
			return err
		}
	}
	return nil
}

// settle picks the layer's outcome: the first hard error, else the first
// suspension.
func settle(results []error) error {
	var firstSusp error
	for _, err := range results {
		if err == nil {
			continue
		}
		var s *suspension
		if stderrors.As(err, &s) {
			if firstSusp == nil {
				firstSusp = err
			}
			continue
		}
		return err
	}
	return firstSusp
}

// dispatch executes one step instance within its scope.
func (rs *runState) dispatch(ctx context.Context, step *model.Step, path string, locals, view map[string]any, suffix string) error {
	data := rs.context(locals, view)
	key, bare, err := rs.instanceKey(step, suffix, data)
	if err != nil {
		return err
	}
	if status, ok := rs.doneStatus(key); ok {
		// Resumed instance; surface its outputs to scope siblings.
		if status == model.StepSucceeded {
			rs.mu.Lock()
			if out, ok := rs.outputs[key]; ok {
				view[bare] = out
			}
			rs.mu.Unlock()
		}
		return nil
	}

	if step.If != "" {
		ok, err := rs.eng.Templater.EvalCondition(step.If, data)
		if err != nil {
			return errors.Ensure(errors.KindTemplate, err).WithStep(key)
		}
		if !ok {
			rs.markDone(key, model.StepSkipped)
			rs.recordInstant(ctx, key, model.StepSkipped, nil, "")
			return nil
		}
	}

	switch step.Shape() {
	case model.ShapeTool:
		outputs, err := rs.eng.executeTool(ctx, rs, step, key, data)
		if err != nil {
			return err
		}
		rs.publish(key, bare, outputs, view)
		return nil
	case model.ShapeParallel:
		if err := rs.walk(ctx, childPath(path, step.ID), step.Steps, locals, view, suffix, true); err != nil {
			return err
		}
		rs.markDone(key, model.StepSucceeded)
		return nil
	case model.ShapeForeach:
		if err := rs.runForeach(ctx, step, path, locals, view, suffix, data); err != nil {
			return err
		}
		rs.markDone(key, model.StepSucceeded)
		return nil
	case model.ShapeAwait:
		return rs.awaitEvent(step, key, data)
	case model.ShapeWait:
		return rs.waitStep(ctx, step, key, bare, view, data)
	}
	return errors.Validation("step %s has no executable shape", key).WithStep(key)
}

// runForeach evaluates the sequence expression and runs one child scope per
// element, concurrently. Static child ids are mangled with the iteration
// index; ids compose across nested loops through the suffix.
func (rs *runState) runForeach(ctx context.Context, step *model.Step, path string, locals, view map[string]any, suffix string, data map[string]any) error {
	val, err := rs.eng.Templater.Eval(step.Foreach, data)
	if err != nil {
		return errors.Ensure(errors.KindTemplate, err).WithStep(step.ID + suffix)
	}
	seq, ok := val.([]any)
	if !ok {
		return errors.Template("foreach of %s: expression %q is not a sequence (got %T)", step.ID, step.Foreach, val).
			WithStep(step.ID + suffix)
	}
	if len(seq) == 0 {
		return nil
	}
	scope := childPath(path, step.ID)
	// Scope siblings publish into view under mu; snapshot it before fanning
	// out so the iteration copies do not race those writes.
	rs.mu.Lock()
	base := make(map[string]any, len(view))
	for k, v := range view {
		base[k] = v
	}
	rs.mu.Unlock()
	results := make([]error, len(seq))
	var wg sync.WaitGroup
	for i, item := range seq {
		iterLocals := make(map[string]any, len(locals)+3)
		for k, v := range locals {
			iterLocals[k] = v
		}
		iterLocals[step.As] = item
		iterLocals[step.As+"_index"] = i
		iterLocals[step.As+"_row"] = i + 1
		iterView := make(map[string]any, len(base))
		for k, v := range base {
			iterView[k] = v
		}
		wg.Add(1)
		go func(i int, iterLocals, iterView map[string]any) {
			defer wg.Done()
			results[i] = rs.walk(ctx, scope, step.Do, iterLocals, iterView, suffix+"_"+strconv.Itoa(i), false)
		}(i, iterLocals, iterView)
	}
	wg.Wait()
	return settle(results)
}

// awaitEvent renders the match predicate and suspends the run.
func (rs *runState) awaitEvent(step *model.Step, key string, data map[string]any) error {
	spec := step.AwaitEvent
	match := map[string]any{}
	for k, v := range spec.Match {
		rendered, err := rs.eng.Templater.EvalValue(v, data)
		if err != nil {
			return errors.Ensure(errors.KindTemplate, err).WithStep(key)
		}
		match[k] = rendered
	}
	var wakeAt int64
	if spec.Timeout != "" {
		d, err := time.ParseDuration(spec.Timeout)
		if err != nil {
			return errors.Validation("step %s: invalid timeout %q: %v", key, spec.Timeout, err).WithStep(key)
		}
		wakeAt = utils.NowMillis() + d.Milliseconds()
	}
	return &suspension{key: key, kind: model.WaitEvent, source: spec.Source, match: match, wakeAt: wakeAt}
}

// waitStep serves short waits on an in-memory timer and suspends for long
// or absolute ones.
func (rs *runState) waitStep(ctx context.Context, step *model.Step, key, bare string, view map[string]any, data map[string]any) error {
	spec := step.Wait
	if spec.Until != "" {
		wakeAt, err := rs.untilMillis(spec.Until, key, data)
		if err != nil {
			return err
		}
		if wakeAt <= utils.NowMillis() {
			rs.recordInstant(ctx, key, model.StepSucceeded, nil, "")
			rs.markDone(key, model.StepSucceeded)
			return nil
		}
		return &suspension{key: key, kind: model.WaitTimer, wakeAt: wakeAt}
	}
	if spec.Seconds > rs.eng.cfg.InlineWaitMaxSec {
		wakeAt := utils.NowMillis() + int64(spec.Seconds)*1000
		return &suspension{key: key, kind: model.WaitTimer, wakeAt: wakeAt}
	}
	timer := time.NewTimer(time.Duration(spec.Seconds) * time.Second)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return errors.Adapter("wait %s aborted: %v", key, ctx.Err()).WithStep(key)
	}
	outputs := map[string]any{"seconds": spec.Seconds}
	rs.recordInstant(ctx, key, model.StepSucceeded, outputs, "")
	rs.publish(key, bare, outputs, view)
	return nil
}

// untilMillis evaluates a wait.until expression to an epoch-ms timestamp.
// Numbers are epoch ms; strings parse as RFC 3339.
func (rs *runState) untilMillis(expr, key string, data map[string]any) (int64, error) {
	val, err := rs.eng.Templater.Eval(expr, data)
	if err != nil {
		return 0, errors.Ensure(errors.KindTemplate, err).WithStep(key)
	}
	switch v := val.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	case string:
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return 0, errors.Template("step %s: until %q is not an RFC 3339 timestamp: %v", key, v, err).WithStep(key)
		}
		return ts.UnixMilli(), nil
	default:
		return 0, errors.Template("step %s: until evaluated to %T, want timestamp", key, val).WithStep(key)
	}
}

// instanceKey computes the step's instance key and its bare in-scope id.
// Templated ids render per iteration; static ids take the loop suffix.
func (rs *runState) instanceKey(step *model.Step, suffix string, data map[string]any) (key, bare string, err error) {
	if strings.Contains(step.ID, "{{") {
		rendered, err := rs.eng.Templater.Render(step.ID, data)
		if err != nil {
			return "", "", errors.Ensure(errors.KindTemplate, err).WithStep(step.ID)
		}
		return rendered, rendered, nil
	}
	return step.ID + suffix, step.ID, nil
}

// recordInstant writes a step execution that started and ended now.
func (rs *runState) recordInstant(ctx context.Context, key string, status model.StepStatus, outputs map[string]any, errMsg string) {
	now := utils.NowMillis()
	exec := &model.StepExecution{
		ID:        uuid.New(),
		RunID:     rs.run.ID,
		StepName:  key,
		Status:    status,
		StartedAt: now,
		EndedAt:   &now,
		Outputs:   outputs,
		Error:     errMsg,
	}
	if err := rs.eng.Store.CreateStep(ctx, exec); err != nil {
		utils.Warn("record step %s: %v", key, err)
	}
	stepsExecuted.WithLabelValues(string(status)).Inc()
}

// recordResumedStep records the suspended step's completion on wake.
func (rs *runState) recordResumedStep(ctx context.Context, key string, status model.StepStatus, outputs map[string]any, errMsg string) {
	rs.recordInstant(ctx, key, status, outputs, errMsg)
}

func childPath(parent, id string) string {
	if parent == "" {
		return id
	}
	return parent + "/" + id
}
