package notify

import (
	"fmt"
	"strings"

	"github.com/zulandar/switchyard/internal/events"
)

// Color constants for event severity.
const (
	ColorSuccess = "#36a64f"
	ColorInfo    = "#2196f3"
	ColorWarning = "#ff9800"
	ColorError   = "#e53935"
)

// Message is a platform-neutral chat notification.
type Message struct {
	Title  string
	Body   string
	Color  string
	Fields []Field
}

// Field is one labelled value shown alongside a message.
type Field struct {
	Name  string
	Value string
	Short bool
}

// Format renders a lifecycle event as a chat message.
func Format(evt events.Event) Message {
	callField := Field{Name: "Call", Value: evt.CallID, Short: true}

	switch evt.Type {
	case events.TypeAIFailed:
		return Message{
			Title:  fmt.Sprintf("Call %s enrichment failed", evt.CallID),
			Body:   evt.String("reason"),
			Color:  ColorError,
			Fields: []Field{callField},
		}
	case events.TypeAICompleted:
		return Message{
			Title: fmt.Sprintf("Call %s archived", evt.CallID),
			Body:  truncate(evt.String("transcription"), 300),
			Color: ColorSuccess,
			Fields: []Field{
				callField,
				{Name: "Sentiment", Value: evt.String("sentiment"), Short: true},
			},
		}
	case events.TypeStateChanged:
		to := evt.String("to_state")
		color := ColorInfo
		if to == "FAILED" {
			color = ColorWarning
		}
		return Message{
			Title: fmt.Sprintf("Call %s is now %s", evt.CallID, to),
			Color: color,
			Fields: []Field{
				callField,
				{Name: "From", Value: evt.String("from_state"), Short: true},
			},
		}
	case events.TypePacketReceived:
		return Message{
			Title:  fmt.Sprintf("Call %s received packet %v", evt.CallID, evt.Data["sequence"]),
			Color:  ColorInfo,
			Fields: []Field{callField, {Name: "Missing", Value: formatInts(evt.Data["missing_sequences"]), Short: true}},
		}
	default:
		return Message{Title: fmt.Sprintf("Call %s: %s", evt.CallID, evt.Type), Color: ColorInfo}
	}
}

// Fallback is the plain-text form of m.
func (m Message) Fallback() string {
	if m.Body == "" {
		return m.Title
	}
	return m.Title + ": " + m.Body
}

func formatInts(v any) string {
	ints, _ := v.([]int)
	if len(ints) == 0 {
		return "none"
	}
	parts := make([]string, len(ints))
	for i, n := range ints {
		parts[i] = fmt.Sprint(n)
	}
	return strings.Join(parts, ", ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
