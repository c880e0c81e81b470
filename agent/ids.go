package agent

import "github.com/google/uuid"

// NewRunID, NewAgentID, NewToolCallID, and NewSubtaskID mint fresh
// correlation identifiers. Each wraps uuid.NewString with a short, greppable
// prefix so a raw id string's origin is obvious in logs, NDJSON event
// files, and traces without decoding anything (§3: run-id, tool call id,
// synthetic subtask id; §4.8 spawnAgent's synthetic child-agent ids).
func NewRunID() string      { return "run-" + uuid.NewString() }
func NewAgentID() string    { return "agent-" + uuid.NewString() }
func NewToolCallID() string { return "call-" + uuid.NewString() }
func NewSubtaskID() string  { return "subtask-" + uuid.NewString() }
