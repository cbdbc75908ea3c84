package transcript

import "strings"

type SegmentKind int

const (
	SegmentText SegmentKind = iota
	SegmentToolUse
	SegmentToolResult
)

type Segment struct {
	Kind SegmentKind
	Text string
}

// Split breaks a folded transcript back into text and marker segments for
// display. A tool result without its end marker runs to the end of the text.
func Split(text string) []Segment {
	segments := []Segment{}
	addText := func(s string) {
		s = strings.Trim(s, "\n")
		if strings.TrimSpace(s) != "" {
			segments = append(segments, Segment{Kind: SegmentText, Text: s})
		}
	}

	for text != "" {
		useAt := strings.Index(text, ToolUseMarker)
		resultAt := strings.Index(text, ToolResultMarker)
		if useAt == -1 && resultAt == -1 {
			addText(text)
			break
		}

		if resultAt == -1 || (useAt != -1 && useAt < resultAt) {
			addText(text[:useAt])
			rest := text[useAt+len(ToolUseMarker):]
			end := strings.IndexByte(rest, '\n')
			if end == -1 {
				end = len(rest)
			}
			segments = append(segments, Segment{Kind: SegmentToolUse, Text: rest[:end]})
			text = rest[end:]
			continue
		}

		addText(text[:resultAt])
		rest := text[resultAt+len(ToolResultMarker):]
		end := strings.Index(rest, EndResultMarker)
		if end == -1 {
			segments = append(segments, Segment{Kind: SegmentToolResult, Text: rest})
			break
		}
		segments = append(segments, Segment{Kind: SegmentToolResult, Text: rest[:end]})
		text = rest[end+len(EndResultMarker):]
	}
	return segments
}
