package execution

import (
	"fmt"
	"time"
)

// TraceEventKind discriminates the event variants the orchestration engine
// emits. Unknown kinds are preserved rather than rejected so an engine
// upgrade cannot break ingestion.
type TraceEventKind string

const (
	TraceKindAgentStep  TraceEventKind = "agent_step"
	TraceKindTaskOutput TraceEventKind = "task_output"
	TraceKindLog        TraceEventKind = "log"
	TraceKindStatus     TraceEventKind = "status"
	TraceKindUnknown    TraceEventKind = "unknown"
)

// TraceEvent is the decoded form of an engine callback payload. Exactly one
// of the variant pointers is set, matching Kind.
type TraceEvent struct {
	Kind        TraceEventKind
	ExecutionID string
	GroupID     string
	GroupEmail  string
	Timestamp   time.Time

	AgentStep  *AgentStepEvent
	TaskOutput *TaskOutputEvent
	Log        *LogEvent
	Status     *StatusEvent
	Unknown    map[string]interface{}
}

type AgentStepEvent struct {
	AgentRole string
	Thought   string
	Tool      string
	ToolInput string
}

type TaskOutputEvent struct {
	TaskName string
	Output   string
}

type LogEvent struct {
	Content string
}

type StatusEvent struct {
	Status  RunStatus
	Message string
}

// DecodeTraceEvent converts a raw engine payload into a TraceEvent. This is
// the single boundary where the engine's loosely-shaped dicts are handled;
// everything downstream works with the typed union. Payloads with no usable
// kind decode to the Unknown variant, never to an error.
func DecodeTraceEvent(raw map[string]interface{}) TraceEvent {
	ev := TraceEvent{
		Kind:        TraceKindUnknown,
		ExecutionID: stringField(raw, "execution_id"),
		GroupID:     stringField(raw, "group_id"),
		GroupEmail:  stringField(raw, "group_email"),
		Timestamp:   time.Now().UTC(),
	}

	if ts := stringField(raw, "timestamp"); ts != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			ev.Timestamp = parsed
		}
	}

	switch TraceEventKind(stringField(raw, "kind")) {
	case TraceKindAgentStep:
		ev.Kind = TraceKindAgentStep
		ev.AgentStep = &AgentStepEvent{
			AgentRole: stringField(raw, "agent_role"),
			Thought:   stringField(raw, "thought"),
			Tool:      stringField(raw, "tool"),
			ToolInput: stringField(raw, "tool_input"),
		}
	case TraceKindTaskOutput:
		ev.Kind = TraceKindTaskOutput
		ev.TaskOutput = &TaskOutputEvent{
			TaskName: stringField(raw, "task_name"),
			Output:   stringField(raw, "output"),
		}
	case TraceKindLog:
		ev.Kind = TraceKindLog
		ev.Log = &LogEvent{Content: stringField(raw, "content")}
	case TraceKindStatus:
		ev.Kind = TraceKindStatus
		ev.Status = &StatusEvent{
			Status:  RunStatus(stringField(raw, "status")),
			Message: stringField(raw, "message"),
		}
	default:
		ev.Unknown = raw
	}

	return ev
}

// Render flattens the event into the single log line persisted and
// broadcast to subscribers.
func (e TraceEvent) Render() string {
	switch e.Kind {
	case TraceKindAgentStep:
		if e.AgentStep.Tool != "" {
			return fmt.Sprintf("[%s] using tool %s: %s", e.AgentStep.AgentRole, e.AgentStep.Tool, e.AgentStep.ToolInput)
		}
		return fmt.Sprintf("[%s] %s", e.AgentStep.AgentRole, e.AgentStep.Thought)
	case TraceKindTaskOutput:
		return fmt.Sprintf("task %s finished: %s", e.TaskOutput.TaskName, e.TaskOutput.Output)
	case TraceKindLog:
		return e.Log.Content
	case TraceKindStatus:
		if e.Status.Message != "" {
			return fmt.Sprintf("status changed to %s: %s", e.Status.Status, e.Status.Message)
		}
		return fmt.Sprintf("status changed to %s", e.Status.Status)
	default:
		return fmt.Sprintf("unrecognized event: %v", e.Unknown)
	}
}

// Valid reports whether the event carries enough identity to persist.
func (e TraceEvent) Valid() bool {
	return e.ExecutionID != ""
}

func stringField(raw map[string]interface{}, key string) string {
	if v, ok := raw[key].(string); ok {
		return v
	}
	return ""
}
