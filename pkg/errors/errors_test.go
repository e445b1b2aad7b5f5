package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorString(t *testing.T) {
	err := Adapter("POST %s returned %d", "https://api.example.com", 500)
	if got := err.Error(); got != "adapter error: POST https://api.example.com returned 500" {
		t.Errorf("unexpected message: %s", got)
	}
	err.WithStep("fetch")
	if got := err.Error(); got != "adapter error in step fetch: POST https://api.example.com returned 500" {
		t.Errorf("unexpected message with step: %s", got)
	}
}

func TestWithStepFirstAttributionWins(t *testing.T) {
	err := Template("undefined reference").WithStep("inner")
	err.WithStep("outer")
	require.Equal(t, "inner", err.StepID)
}

func TestUnwrapChain(t *testing.T) {
	cause := errors.New("connection refused")
	err := Adapter("request failed: %v", cause)
	require.ErrorIs(t, err, cause)

	wrapped := fmt.Errorf("step exec: %w", err)
	fe, ok := As(wrapped)
	require.True(t, ok)
	require.Equal(t, KindAdapter, fe.Kind)
}

func TestKindOf(t *testing.T) {
	require.Equal(t, KindValidation, KindOf(Validation("bad shape")))
	require.Equal(t, Kind(""), KindOf(errors.New("plain")))
	require.True(t, IsKind(Timeout("deadline"), KindTimeout))
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{Adapter("boom"), true},
		{Storage("db down"), true},
		{errors.New("unclassified"), true},
		{Validation("bad"), false},
		{Template("undefined"), false},
		{Timeout("elapsed"), false},
	}
	for _, c := range cases {
		if got := Retryable(c.err); got != c.want {
			t.Errorf("Retryable(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestJSONShape(t *testing.T) {
	err := Timeout("no match within 1h").WithStep("gate").WithDetail("timeout", "1h")
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(err.JSON(), &decoded))
	require.Equal(t, "timeout", decoded["kind"])
	require.Equal(t, "gate", decoded["step_id"])
	details, ok := decoded["details"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "1h", details["timeout"])
}

func TestEnsure(t *testing.T) {
	fe := Ensure(KindStorage, errors.New("disk full"))
	require.Equal(t, KindStorage, fe.Kind)

	orig := Template("bad expr")
	require.Same(t, orig, Ensure(KindStorage, fmt.Errorf("wrap: %w", orig)))
}
