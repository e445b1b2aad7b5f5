package storage

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/awantoch/beemflow/model"
	"github.com/awantoch/beemflow/pkg/errors"
	"github.com/awantoch/beemflow/utils"
)

// Memory is the in-memory driver: mutex-guarded maps, values cloned on the
// way in and out so callers cannot alias internal state.
type Memory struct {
	mu       sync.Mutex
	runs     map[uuid.UUID]*model.Run
	steps    map[uuid.UUID][]*model.StepExecution
	paused   map[string]*model.PausedRun
	waits    map[string]int64
	flows    map[string][]byte
	versions map[string][]*model.FlowVersion
	deployed map[string]string
}

func NewMemory() *Memory {
	return &Memory{
		runs:     map[uuid.UUID]*model.Run{},
		steps:    map[uuid.UUID][]*model.StepExecution{},
		paused:   map[string]*model.PausedRun{},
		waits:    map[string]int64{},
		flows:    map[string][]byte{},
		versions: map[string][]*model.FlowVersion{},
		deployed: map[string]string{},
	}
}

func clone[T any](v *T) *T {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		cp := *v
		return &cp
	}
	out := new(T)
	if err := json.Unmarshal(raw, out); err != nil {
		cp := *v
		return &cp
	}
	return out
}

func (m *Memory) CreateRun(ctx context.Context, run *model.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = clone(run)
	return nil
}

func (m *Memory) UpdateRunStatus(ctx context.Context, id uuid.UUID, status model.RunStatus, endedAt *int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return errors.Storage("run %s not found", id)
	}
	run.Status = status
	if endedAt != nil {
		run.EndedAt = endedAt
	}
	return nil
}

func (m *Memory) GetRun(ctx context.Context, id uuid.UUID) (*model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, errors.Storage("run %s not found", id)
	}
	out := clone(run)
	out.Steps = m.stepsLocked(id)
	out.Outputs = outputsFromSteps(out.Steps)
	return out, nil
}

func (m *Memory) ListRuns(ctx context.Context) ([]*model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Run, 0, len(m.runs))
	for _, run := range m.runs {
		out = append(out, clone(run))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt != out[j].StartedAt {
			return out[i].StartedAt > out[j].StartedAt
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (m *Memory) GetLatestRun(ctx context.Context, flowName string) (*model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *model.Run
	for _, run := range m.runs {
		if run.FlowName != flowName {
			continue
		}
		if latest == nil || run.StartedAt > latest.StartedAt {
			latest = run
		}
	}
	if latest == nil {
		return nil, nil
	}
	out := clone(latest)
	out.Steps = m.stepsLocked(latest.ID)
	out.Outputs = outputsFromSteps(out.Steps)
	return out, nil
}

func (m *Memory) CreateStep(ctx context.Context, step *model.StepExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps[step.RunID] = append(m.steps[step.RunID], clone(step))
	return nil
}

func (m *Memory) UpdateStep(ctx context.Context, step *model.StepExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.steps[step.RunID] {
		if existing.ID == step.ID {
			m.steps[step.RunID][i] = clone(step)
			return nil
		}
	}
	return errors.Storage("step %s not found in run %s", step.ID, step.RunID)
}

func (m *Memory) GetSteps(ctx context.Context, runID uuid.UUID) ([]*model.StepExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stepsLocked(runID), nil
}

func (m *Memory) stepsLocked(runID uuid.UUID) []*model.StepExecution {
	steps := m.steps[runID]
	out := make([]*model.StepExecution, len(steps))
	for i, s := range steps {
		out[i] = clone(s)
	}
	return out
}

func (m *Memory) SavePausedRun(ctx context.Context, paused *model.PausedRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused[paused.Token] = clone(paused)
	return nil
}

func (m *Memory) LoadPausedRun(ctx context.Context, token string) (*model.PausedRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return clone(m.paused[token]), nil
}

func (m *Memory) ClaimPausedRun(ctx context.Context, token string) (*model.PausedRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	paused, ok := m.paused[token]
	if !ok {
		return nil, nil
	}
	delete(m.paused, token)
	delete(m.waits, token)
	return paused, nil
}

func (m *Memory) DeletePausedRun(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.paused, token)
	return nil
}

func (m *Memory) ListPausedRuns(ctx context.Context) ([]*model.PausedRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.PausedRun, 0, len(m.paused))
	for _, p := range m.paused {
		out = append(out, clone(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out, nil
}

func (m *Memory) SaveWait(ctx context.Context, token string, wakeAt int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.waits[token] = wakeAt
	return nil
}

func (m *Memory) ListWaitsDue(ctx context.Context, now int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []string
	for token, wakeAt := range m.waits {
		if wakeAt <= now {
			due = append(due, token)
		}
	}
	sort.Strings(due)
	return due, nil
}

func (m *Memory) DeleteWait(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.waits, token)
	return nil
}

func (m *Memory) SaveFlow(ctx context.Context, name string, content []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flows[name] = append([]byte(nil), content...)
	return nil
}

func (m *Memory) LoadFlow(ctx context.Context, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	content, ok := m.flows[name]
	if !ok {
		return nil, errors.Storage("flow %s not found", name)
	}
	return append([]byte(nil), content...), nil
}

func (m *Memory) ListFlows(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.flows))
	for name := range m.flows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *Memory) SaveFlowVersion(ctx context.Context, v *model.FlowVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *v
	cp.Content = append([]byte(nil), v.Content...)
	if cp.CreatedAt == 0 {
		cp.CreatedAt = utils.NowMillis()
	}
	for i, existing := range m.versions[v.Name] {
		if existing.Version == v.Version {
			m.versions[v.Name][i] = &cp
			return nil
		}
	}
	m.versions[v.Name] = append(m.versions[v.Name], &cp)
	return nil
}

func (m *Memory) ListFlowVersions(ctx context.Context, name string) ([]*model.FlowVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	versions := m.versions[name]
	out := make([]*model.FlowVersion, len(versions))
	for i, v := range versions {
		cp := *v
		cp.Content = append([]byte(nil), v.Content...)
		out[i] = &cp
	}
	return out, nil
}

func (m *Memory) SetDeployedVersion(ctx context.Context, name, version string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.versions[name] {
		if v.Version == version {
			m.deployed[name] = version
			return nil
		}
	}
	return errors.Storage("flow %s has no version %s", name, version)
}

func (m *Memory) GetDeployed(ctx context.Context, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	version, ok := m.deployed[name]
	if !ok {
		return nil, errors.Storage("flow %s has no deployed version", name)
	}
	for _, v := range m.versions[name] {
		if v.Version == version {
			return append([]byte(nil), v.Content...), nil
		}
	}
	return nil, errors.Storage("flow %s deployed version %s is missing", name, version)
}

func (m *Memory) Close() error { return nil }

// outputsFromSteps reconstructs the run-level outputs namespace from
// succeeded step executions, keyed by instance name.
func outputsFromSteps(steps []*model.StepExecution) map[string]any {
	if len(steps) == 0 {
		return nil
	}
	out := map[string]any{}
	for _, s := range steps {
		if s.Status == model.StepSucceeded && s.Outputs != nil {
			out[s.StepName] = s.Outputs
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
