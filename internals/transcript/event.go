package transcript

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

type EventKind int

const (
	EventAssistantText EventKind = iota
	EventToolInvocation
	EventToolOutput
)

// Event is one structural unit of an agent's output stream.
type Event struct {
	Kind EventKind
	// Text holds the assistant fragment or the tool output payload.
	Text string
	// Tool and Command describe a tool invocation. Command is empty when
	// the tool was not called with a command parameter.
	Tool    string
	Command string
}

func AssistantText(fragment string) Event {
	return Event{Kind: EventAssistantText, Text: fragment}
}

func ToolInvocation(name string, command string) Event {
	return Event{Kind: EventToolInvocation, Tool: name, Command: command}
}

func ToolOutput(payload string) Event {
	return Event{Kind: EventToolOutput, Text: payload}
}

type record struct {
	Type       string          `json:"type"`
	Role       json.RawMessage `json:"role"`
	Content    json.RawMessage `json:"content"`
	ToolName   json.RawMessage `json:"tool_name"`
	Parameters json.RawMessage `json:"parameters"`
	Output     json.RawMessage `json:"output"`
}

// DecodeLine turns one NDJSON record into an Event. The boolean is false for
// blank, malformed or unrecognised records.
func DecodeLine(line []byte) (Event, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return Event{}, false
	}
	var rec record
	if err := json.Unmarshal(line, &rec); err != nil {
		return Event{}, false
	}

	switch rec.Type {
	case "message":
		role, _ := rawString(rec.Role)
		if role != "assistant" {
			return Event{}, false
		}
		content, ok := rawString(rec.Content)
		if !ok {
			return Event{}, false
		}
		return AssistantText(content), true
	case "tool_use":
		name, ok := rawString(rec.ToolName)
		if !ok || name == "" {
			name = "unknown"
		}
		var params map[string]json.RawMessage
		_ = json.Unmarshal(rec.Parameters, &params)
		command, _ := rawString(params["command"])
		return ToolInvocation(name, command), true
	case "tool_result":
		if len(rec.Output) == 0 || string(rec.Output) == "null" {
			return Event{}, false
		}
		if output, ok := rawString(rec.Output); ok {
			return ToolOutput(output), true
		}
		var compact bytes.Buffer
		if err := json.Compact(&compact, rec.Output); err != nil {
			return Event{}, false
		}
		return ToolOutput(compact.String()), true
	default:
		return Event{}, false
	}
}

func rawString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// ParseStream reads every line of r and returns the recognised events in
// arrival order. Lines have no length limit.
func ParseStream(r io.Reader) ([]Event, error) {
	reader := bufio.NewReader(r)
	events := []Event{}
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			if event, ok := DecodeLine(line); ok {
				events = append(events, event)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return events, nil
			}
			return events, err
		}
	}
}
