package main

import (
	"encoding/json"
	"os"

	"github.com/awantoch/beemflow/engine"
	"github.com/awantoch/beemflow/model"
	"github.com/awantoch/beemflow/pkg/errors"
	"github.com/awantoch/beemflow/utils"
)

// loadEvent builds the trigger event from --event (file path) or
// --event-json (inline). Both empty yields an empty event.
func loadEvent(eventPath, eventJSON string) (map[string]any, error) {
	var raw []byte
	switch {
	case eventPath != "" && eventJSON != "":
		return nil, errors.Validation("use either --event or --event-json, not both")
	case eventPath != "":
		data, err := os.ReadFile(eventPath)
		if err != nil {
			return nil, errors.Validation("read event file %s: %v", eventPath, err)
		}
		raw = data
	case eventJSON != "":
		raw = []byte(eventJSON)
	default:
		return map[string]any{}, nil
	}
	var event map[string]any
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, errors.Validation("event must be a JSON object: %v", err)
	}
	return event, nil
}

func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		utils.Error("encode output: %v", err)
		return
	}
	utils.User("%s", out)
}

// printResult renders the outcome of Execute or Resume.
func printResult(res *engine.Result) {
	out := map[string]any{
		"run_id":  res.RunID.String(),
		"status":  string(res.Status),
		"outputs": res.Outputs,
	}
	if res.Status == model.RunPaused {
		out["token"] = res.Token
	}
	printJSON(out)
}
