// Package transcript folds an agent's stream-json output into a single
// readable transcript.
//
// Assistant text fragments are concatenated as they arrive. Tool activity is
// rendered as marker blocks separated from surrounding text by a blank line:
//
//	[TOOL_USE]shell (ls)
//
//	[TOOL_RESULT]file.txt[END_RESULT]
package transcript

import (
	"io"
	"strings"
)

const (
	ToolUseMarker    = "[TOOL_USE]"
	ToolResultMarker = "[TOOL_RESULT]"
	EndResultMarker  = "[END_RESULT]"

	separator = "\n\n"
)

type unitKind int

const (
	unitNone unitKind = iota
	unitText
	unitMarker
)

// Accumulator is the fold state. The zero value is ready to use.
type Accumulator struct {
	b    strings.Builder
	last unitKind
}

func (a *Accumulator) Add(event Event) {
	switch event.Kind {
	case EventAssistantText:
		if event.Text == "" {
			return
		}
		if a.last == unitMarker {
			a.b.WriteString(separator)
		}
		a.b.WriteString(event.Text)
		a.last = unitText
	case EventToolInvocation:
		desc := event.Tool
		if event.Command != "" {
			desc += " (" + event.Command + ")"
		}
		a.marker(ToolUseMarker + desc)
	case EventToolOutput:
		a.marker(ToolResultMarker + event.Text + EndResultMarker)
	}
}

func (a *Accumulator) marker(text string) {
	if a.b.Len() > 0 && !strings.HasSuffix(a.b.String(), separator) {
		a.b.WriteString(separator)
	}
	a.b.WriteString(text)
	a.last = unitMarker
}

func (a *Accumulator) String() string {
	return strings.TrimSpace(a.b.String())
}

func Fold(events []Event) string {
	var acc Accumulator
	for _, event := range events {
		acc.Add(event)
	}
	return acc.String()
}

// Decode parses and folds a complete stream.
func Decode(r io.Reader) (string, error) {
	events, err := ParseStream(r)
	return Fold(events), err
}
