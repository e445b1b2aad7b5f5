package dsl

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/awantoch/beemflow/graph"
	"github.com/awantoch/beemflow/model"
	"github.com/awantoch/beemflow/pkg/errors"
)

//go:embed beemflow.schema.json
var schemaJSON string

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ExecutableFlow is a validated flow plus the precomputed dependency DAG and
// topological layers of every scope. Scope keys are paths: "" for the top
// level, the container step ids joined with / for nested scopes, "catch" for
// the catch sequence.
type ExecutableFlow struct {
	Flow   *model.Flow
	Scopes map[string]*graph.DAG
}

// ScopeDAG returns the dependency DAG of the given scope path.
func (ef *ExecutableFlow) ScopeDAG(path string) *graph.DAG {
	return ef.Scopes[path]
}

// Mermaid renders the flow's dependency structure as a Mermaid flowchart.
func (ef *ExecutableFlow) Mermaid() string {
	return graph.Mermaid(ef.Flow, ef.Scopes)
}

// Validate checks a parsed flow against the structural rules and returns the
// executable form. Checks run in order: schema pre-screen, top-level fields,
// triggers and cron, then per scope the step shapes, id uniqueness, and the
// dependency graph (explicit depends_on merged with implicit template
// references), rejecting cycles with their path.
func Validate(flow *model.Flow) (*ExecutableFlow, error) {
	if flow == nil {
		return nil, errors.Validation("flow is nil")
	}
	if err := validateSchema(flow); err != nil {
		return nil, err
	}
	if flow.Name == "" {
		return nil, errors.Validation("flow name is required")
	}
	if err := validateTriggers(flow); err != nil {
		return nil, err
	}
	if len(flow.Steps) == 0 {
		return nil, errors.Validation("flow %q has no steps", flow.Name)
	}
	scopes := map[string]*graph.DAG{}
	if err := validateScope(flow.Steps, "", "steps", scopes, false); err != nil {
		return nil, err
	}
	if len(flow.Catch) > 0 {
		if err := validateScope(flow.Catch, "catch", "catch", scopes, false); err != nil {
			return nil, err
		}
	}
	return &ExecutableFlow{Flow: flow, Scopes: scopes}, nil
}

// validateSchema pre-screens the document against the embedded JSON Schema.
func validateSchema(flow *model.Flow) error {
	raw, err := json.Marshal(flow)
	if err != nil {
		return errors.Validation("flow marshal: %v", err)
	}
	schema, err := jsonschema.CompileString("beemflow.schema.json", schemaJSON)
	if err != nil {
		return errors.Validation("schema compile: %v", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return errors.Validation("flow unmarshal: %v", err)
	}
	if err := schema.Validate(doc); err != nil {
		return errors.Validation("flow schema: %v", err)
	}
	return nil
}

func validateTriggers(flow *model.Flow) error {
	triggers := flow.Triggers()
	if len(triggers) == 0 {
		return errors.Validation("flow %q: on is required", flow.Name)
	}
	for _, t := range triggers {
		switch {
		case t == model.TriggerManual, t == model.TriggerCron, t == model.TriggerHTTP:
		case strings.HasPrefix(t, model.TriggerEventPrefix) && len(t) > len(model.TriggerEventPrefix):
		default:
			return errors.Validation("flow %q: unknown trigger %q", flow.Name, t)
		}
	}
	if flow.HasTrigger(model.TriggerCron) {
		if flow.Cron == "" {
			return errors.Validation("flow %q: schedule.cron trigger requires cron", flow.Name)
		}
		if _, err := cron.ParseStandard(flow.Cron); err != nil {
			return errors.Validation("flow %q: invalid cron expression %q: %v", flow.Name, flow.Cron, err)
		}
	}
	return nil
}

// validateScope checks one step sequence and recurses into container shapes.
// insideDo permits templated step ids, which are rendered per iteration.
func validateScope(steps []model.Step, path, field string, scopes map[string]*graph.DAG, insideDo bool) error {
	seen := map[string]bool{}
	for i := range steps {
		s := &steps[i]
		at := fmt.Sprintf("%s[%d]", field, i)
		if s.ID == "" {
			return errors.Validation("%s: step id is required", at)
		}
		if seen[s.ID] {
			return errors.Validation("%s: duplicate step id %q", at, s.ID)
		}
		seen[s.ID] = true
		templated := strings.Contains(s.ID, "{{")
		if templated && !insideDo {
			return errors.Validation("%s: templated step id %q is only allowed inside foreach do", at, s.ID)
		}
		if !templated && !identRe.MatchString(s.ID) {
			return errors.Validation("%s: step id %q must match [A-Za-z_][A-Za-z0-9_]*", at, s.ID)
		}
		if err := validateShape(s, at); err != nil {
			return err
		}
		if s.If != "" && !strings.Contains(s.If, "{{") {
			return errors.Validation("%s.if: condition must be a {{ ... }} expression", at).WithStep(s.ID)
		}
		if s.Retry != nil && s.Retry.Attempts < 1 {
			return errors.Validation("%s.retry.attempts: must be at least 1", at).WithStep(s.ID)
		}
		if children := s.Children(); len(children) > 0 {
			childField := at + ".steps"
			if s.Shape() == model.ShapeForeach {
				childField = at + ".do"
			}
			inDo := insideDo || s.Shape() == model.ShapeForeach
			if err := validateScope(children, scopePath(path, s.ID), childField, scopes, inDo); err != nil {
				return err
			}
		}
	}
	dag, err := graph.Build(steps, implicitRefs(steps))
	if err != nil {
		return err
	}
	scopes[path] = dag
	return nil
}

// validateShape enforces exactly one of the five step shapes plus the
// shape-specific requirements.
func validateShape(s *model.Step, at string) error {
	shapes := s.Shapes()
	switch len(shapes) {
	case 0:
		return errors.Validation("%s: step %q has no shape; expected one of use, parallel, foreach, await_event, wait", at, s.ID).WithStep(s.ID)
	case 1:
	default:
		names := make([]string, len(shapes))
		for i, sh := range shapes {
			names[i] = string(sh)
		}
		return errors.Validation("%s: step %q combines %s; exactly one shape is allowed", at, s.ID, strings.Join(names, " and ")).WithStep(s.ID)
	}
	switch shapes[0] {
	case model.ShapeTool:
		if len(s.Steps) > 0 || len(s.Do) > 0 {
			return errors.Validation("%s: tool step %q cannot carry nested steps", at, s.ID).WithStep(s.ID)
		}
	case model.ShapeParallel:
		if len(s.Steps) == 0 {
			return errors.Validation("%s.steps: parallel step %q requires non-empty steps", at, s.ID).WithStep(s.ID)
		}
	case model.ShapeForeach:
		if s.As == "" {
			return errors.Validation("%s.as: foreach step %q requires as", at, s.ID).WithStep(s.ID)
		}
		if !identRe.MatchString(s.As) {
			return errors.Validation("%s.as: loop variable %q must be an identifier", at, s.As).WithStep(s.ID)
		}
		if len(s.Do) == 0 {
			return errors.Validation("%s.do: foreach step %q requires non-empty do", at, s.ID).WithStep(s.ID)
		}
	case model.ShapeAwait:
		if s.AwaitEvent.Source == "" {
			return errors.Validation("%s.await_event.source: required", at).WithStep(s.ID)
		}
	case model.ShapeWait:
		hasSeconds := s.Wait.Seconds > 0
		hasUntil := s.Wait.Until != ""
		if hasSeconds == hasUntil {
			return errors.Validation("%s.wait: step %q requires exactly one of seconds or until", at, s.ID).WithStep(s.ID)
		}
	}
	return nil
}

func scopePath(parent, id string) string {
	if parent == "" {
		return id
	}
	return parent + "/" + id
}
