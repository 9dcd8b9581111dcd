package models

import (
	"encoding/json"
	"fmt"
)

// Action kinds stored in actions.action_type. Each kind has a stable
// payload shape; ingress validation keeps the JSON columns queryable.
const (
	ActionWait      = "wait"
	ActionGUI       = "gui"
	ActionCLI       = "cli"
	ActionReasoning = "reasoning"
	ActionRecording = "recording"
)

// WaitActionInput is the input_data payload of a wait action.
type WaitActionInput struct {
	WaitID     string          `json:"wait_id"`
	Target     string          `json:"target"`
	Criteria   string          `json:"criteria"`
	Timeout    int             `json:"timeout,omitempty"`
	Screenshot *ScreenshotRefs `json:"screenshot,omitempty"`
}

// WaitActionOutput is the output_data payload of a finished wait action.
type WaitActionOutput struct {
	State          string          `json:"state"`
	Detail         string          `json:"detail"`
	ElapsedSeconds float64         `json:"elapsed_seconds,omitempty"`
	Screenshot     *ScreenshotRefs `json:"screenshot,omitempty"`
}

// ValidateActionKind rejects unknown action kinds on ingress.
func ValidateActionKind(kind string) error {
	switch kind {
	case ActionWait, ActionGUI, ActionCLI, ActionReasoning, ActionRecording:
		return nil
	default:
		return fmt.Errorf("invalid action type: %q", kind)
	}
}

// ValidateActionPayload checks that a non-empty payload column is valid
// JSON; wait payloads must additionally carry their fixed schema.
func ValidateActionPayload(kind, payload string) error {
	if payload == "" {
		return nil
	}
	if kind == ActionWait {
		var in WaitActionInput
		if err := json.Unmarshal([]byte(payload), &in); err != nil {
			return fmt.Errorf("invalid wait action payload: %w", err)
		}
		return nil
	}
	if !json.Valid([]byte(payload)) {
		return fmt.Errorf("invalid %s action payload: not valid JSON", kind)
	}
	return nil
}
