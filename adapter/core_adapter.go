package adapter

import (
	"context"
	"time"

	"github.com/awantoch/beemflow/pkg/errors"
	"github.com/awantoch/beemflow/registry"
	"github.com/awantoch/beemflow/utils"
)

// EchoAdapter prints the text input to the user channel and returns the
// inputs unchanged. The workhorse of examples and tests.
type EchoAdapter struct{}

func (a *EchoAdapter) ID() string { return "core.echo" }

func (a *EchoAdapter) Execute(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	if t, ok := inputs["text"].(string); ok {
		utils.User("%s", t)
	}
	return stripReserved(inputs), nil
}

func (a *EchoAdapter) Manifest() *registry.ToolManifest {
	return &registry.ToolManifest{
		Name:        a.ID(),
		Description: "Echo inputs back; prints text to stdout",
	}
}

// WaitAdapter sleeps for the given number of seconds. The sleep honors
// context cancellation so aborted runs do not hang on it.
type WaitAdapter struct{}

func (a *WaitAdapter) ID() string { return "core.wait" }

func (a *WaitAdapter) Execute(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	seconds, err := numberInput(inputs, "seconds")
	if err != nil {
		return nil, err
	}
	timer := time.NewTimer(time.Duration(seconds * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return nil, errors.Adapter("wait canceled: %v", ctx.Err())
	}
	return map[string]any{"seconds": seconds}, nil
}

func (a *WaitAdapter) Manifest() *registry.ToolManifest {
	return &registry.ToolManifest{
		Name:        a.ID(),
		Description: "Sleep for a number of seconds",
		Parameters: map[string]any{
			"type":     "object",
			"required": []any{"seconds"},
			"properties": map[string]any{
				"seconds": map[string]any{"type": "number", "minimum": 0},
			},
		},
	}
}

// LogAdapter writes a message to the diagnostic log and passes inputs
// through, so it can sit in the middle of a chain.
type LogAdapter struct{}

func (a *LogAdapter) ID() string { return "core.log" }

func (a *LogAdapter) Execute(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	if m, ok := inputs["message"].(string); ok {
		utils.Info("%s", m)
	} else {
		utils.Info("%v", stripReserved(inputs))
	}
	return stripReserved(inputs), nil
}

func (a *LogAdapter) Manifest() *registry.ToolManifest {
	return &registry.ToolManifest{
		Name:        a.ID(),
		Description: "Log a message and pass inputs through",
	}
}

func numberInput(inputs map[string]any, key string) (float64, error) {
	switch v := inputs[key].(type) {
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case float64:
		return v, nil
	case nil:
		return 0, errors.Validation("missing %s", key)
	default:
		return 0, errors.Validation("%s must be a number, got %T", key, v)
	}
}
