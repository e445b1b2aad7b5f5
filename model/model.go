// Package model defines the flow document data model and the execution
// records the rest of the engine operates on.
package model

// Trigger names accepted in a flow's `on` field. Event triggers use the
// "event:" prefix followed by the topic name.
const (
	TriggerManual      = "cli.manual"
	TriggerCron        = "schedule.cron"
	TriggerHTTP        = "http.request"
	TriggerEventPrefix = "event:"
)

// Flow is a named, versioned workflow document.
type Flow struct {
	Name        string                     `yaml:"name" json:"name"`
	Description string                     `yaml:"description,omitempty" json:"description,omitempty"`
	Version     string                     `yaml:"version,omitempty" json:"version,omitempty"`
	On          any                        `yaml:"on" json:"on"`
	Cron        string                     `yaml:"cron,omitempty" json:"cron,omitempty"`
	Vars        map[string]any             `yaml:"vars,omitempty" json:"vars,omitempty"`
	Steps       []Step                     `yaml:"steps" json:"steps"`
	Catch       []Step                     `yaml:"catch,omitempty" json:"catch,omitempty"`
	MCPServers  map[string]MCPServerConfig `yaml:"mcpServers,omitempty" json:"mcpServers,omitempty"`
}

// MCPServerConfig declares how to launch an MCP server a flow's tools run on.
type MCPServerConfig struct {
	Command string            `yaml:"command" json:"command"`
	Args    []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
}

// Triggers normalizes the `on` field, which may be a single trigger name or
// a sequence of them.
func (f *Flow) Triggers() []string {
	switch v := f.On.(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, t := range v {
			if s, ok := t.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// HasTrigger reports whether the flow declares the given trigger name.
func (f *Flow) HasTrigger(name string) bool {
	for _, t := range f.Triggers() {
		if t == name {
			return true
		}
	}
	return false
}

// Step is one node in a flow. Exactly one shape must be set: use (tool),
// parallel+steps, foreach+as+do, await_event, or wait. The if, depends_on,
// and retry modifiers apply to any shape.
type Step struct {
	ID         string          `yaml:"id" json:"id"`
	Use        string          `yaml:"use,omitempty" json:"use,omitempty"`
	With       map[string]any  `yaml:"with,omitempty" json:"with,omitempty"`
	If         string          `yaml:"if,omitempty" json:"if,omitempty"`
	DependsOn  []string        `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	Parallel   bool            `yaml:"parallel,omitempty" json:"parallel,omitempty"`
	Steps      []Step          `yaml:"steps,omitempty" json:"steps,omitempty"`
	Foreach    string          `yaml:"foreach,omitempty" json:"foreach,omitempty"`
	As         string          `yaml:"as,omitempty" json:"as,omitempty"`
	Do         []Step          `yaml:"do,omitempty" json:"do,omitempty"`
	Retry      *RetrySpec      `yaml:"retry,omitempty" json:"retry,omitempty"`
	AwaitEvent *AwaitEventSpec `yaml:"await_event,omitempty" json:"await_event,omitempty"`
	Wait       *WaitSpec       `yaml:"wait,omitempty" json:"wait,omitempty"`
}

// Shape tags the five step variants. The orchestrator dispatches on it.
type Shape string

const (
	ShapeTool     Shape = "tool"
	ShapeParallel Shape = "parallel"
	ShapeForeach  Shape = "foreach"
	ShapeAwait    Shape = "await_event"
	ShapeWait     Shape = "wait"
)

// Shapes lists every shape marker present on the step. A valid step has
// exactly one; the validator rejects the rest.
func (s *Step) Shapes() []Shape {
	var shapes []Shape
	if s.Use != "" {
		shapes = append(shapes, ShapeTool)
	}
	if s.Parallel {
		shapes = append(shapes, ShapeParallel)
	}
	if s.Foreach != "" {
		shapes = append(shapes, ShapeForeach)
	}
	if s.AwaitEvent != nil {
		shapes = append(shapes, ShapeAwait)
	}
	if s.Wait != nil {
		shapes = append(shapes, ShapeWait)
	}
	return shapes
}

// Shape returns the step's single shape tag. Only meaningful after
// validation.
func (s *Step) Shape() Shape {
	shapes := s.Shapes()
	if len(shapes) != 1 {
		return ""
	}
	return shapes[0]
}

// Children returns the nested step sequence for container shapes.
func (s *Step) Children() []Step {
	switch s.Shape() {
	case ShapeParallel:
		return s.Steps
	case ShapeForeach:
		return s.Do
	}
	return nil
}

// RetrySpec retries a failing tool invocation up to Attempts total
// invocations, sleeping DelaySec seconds between them.
type RetrySpec struct {
	Attempts int `yaml:"attempts" json:"attempts"`
	DelaySec int `yaml:"delay_sec" json:"delay_sec"`
}

// AwaitEventSpec pauses the run until an event on Source satisfies Match,
// or Timeout elapses.
type AwaitEventSpec struct {
	Source  string         `yaml:"source" json:"source"`
	Match   map[string]any `yaml:"match,omitempty" json:"match,omitempty"`
	Timeout string         `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// WaitSpec pauses the run for Seconds, or until the timestamp expression
// Until evaluates to. Exactly one must be set.
type WaitSpec struct {
	Seconds int    `yaml:"seconds,omitempty" json:"seconds,omitempty"`
	Until   string `yaml:"until,omitempty" json:"until,omitempty"`
}
