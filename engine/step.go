package engine

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/awantoch/beemflow/adapter"
	"github.com/awantoch/beemflow/model"
	"github.com/awantoch/beemflow/pkg/errors"
	"github.com/awantoch/beemflow/utils"
)

// executeTool runs one tool step instance: render with, validate params,
// invoke the adapter under the retry policy, and record the execution.
func (e *Engine) executeTool(ctx context.Context, rs *runState, step *model.Step, key string, data map[string]any) (map[string]any, error) {
	if rs.sem != nil {
		select {
		case rs.sem <- struct{}{}:
			defer func() { <-rs.sem }()
		case <-ctx.Done():
			return nil, errors.Adapter("step %s aborted: %v", key, ctx.Err()).WithStep(key)
		}
	}

	exec := &model.StepExecution{
		ID:        uuid.New(),
		RunID:     rs.run.ID,
		StepName:  key,
		Status:    model.StepRunning,
		StartedAt: utils.NowMillis(),
	}
	if err := e.Store.CreateStep(ctx, exec); err != nil {
		return nil, err
	}

	outputs, err := e.invokeTool(ctx, step, key, data)

	ended := utils.NowMillis()
	exec.EndedAt = &ended
	if err != nil {
		exec.Status = model.StepFailed
		if fe, ok := errors.As(err); ok {
			exec.Error = string(fe.JSON())
		} else {
			exec.Error = err.Error()
		}
	} else {
		exec.Status = model.StepSucceeded
		exec.Outputs = outputs
	}
	if uerr := e.Store.UpdateStep(ctx, exec); uerr != nil {
		utils.Warn("record step %s: %v", key, uerr)
	}
	stepsExecuted.WithLabelValues(string(exec.Status)).Inc()
	return outputs, err
}

func (e *Engine) invokeTool(ctx context.Context, step *model.Step, key string, data map[string]any) (map[string]any, error) {
	rendered, err := e.Templater.EvalValue(anyMap(step.With), data)
	if err != nil {
		return nil, errors.Ensure(errors.KindTemplate, err).WithStep(key)
	}
	params, _ := rendered.(map[string]any)
	if params == nil {
		params = map[string]any{}
	}

	a, err := e.Adapters.Resolve(ctx, step.Use)
	if err != nil {
		return nil, errors.Ensure(errors.KindValidation, err).WithStep(key)
	}
	if err := adapter.ValidateParams(a.Manifest(), params); err != nil {
		return nil, errors.Ensure(errors.KindValidation, err).WithStep(key)
	}

	inputs := make(map[string]any, len(params)+2)
	for k, v := range params {
		inputs[k] = v
	}
	inputs[adapter.UseKey] = step.Use
	inputs[adapter.ContextKey] = map[string]any{
		"vars":    data["vars"],
		"env":     data["env"],
		"secrets": data["secrets"],
		"event":   data["event"],
	}

	attempts := 1
	delay := time.Duration(0)
	if step.Retry != nil {
		attempts = step.Retry.Attempts
		delay = time.Duration(step.Retry.DelaySec) * time.Second
	}

	ctx, span := e.tracer.Start(ctx, "step.invoke",
		trace.WithAttributes(
			attribute.String("step.key", key),
			attribute.String("tool.use", step.Use),
		))
	defer span.End()

	operation := func() (map[string]any, error) {
		adapterInvocations.WithLabelValues(a.ID()).Inc()
		out, err := a.Execute(ctx, inputs)
		if err != nil {
			if !errors.Retryable(err) {
				return nil, backoff.Permanent(err)
			}
			if attempts > 1 {
				retriesTotal.Inc()
				utils.Debug("step %s: attempt failed, will retry: %v", key, err)
			}
			return nil, err
		}
		return out, nil
	}
	outputs, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(delay)),
		backoff.WithMaxTries(uint(attempts)))
	if err != nil {
		return nil, errors.Ensure(errors.KindAdapter, err).WithStep(key)
	}
	return outputs, nil
}

func anyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
