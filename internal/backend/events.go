package backend

import (
	"fmt"
	"strings"
	"time"

	"github.com/julianstephens/habitsync/internal/constants"
)

// Operation is the kind of change an event reports.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Event is one change notification.
//
// Events carries fully qualified names such as
// "databases.habitsync.collections.habits.documents.<id>.create"; Channels lists
// the collection channels the change was published on.
type Event struct {
	Events    []string  `json:"events"`
	Channels  []string  `json:"channels"`
	Payload   Document  `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// Channel returns the change feed channel of a collection.
func Channel(collection string) string {
	return fmt.Sprintf("databases.%s.collections.%s.documents", constants.DatabaseID, collection)
}

// EventName returns the qualified event name for a change to one document.
func EventName(collection, id string, op Operation) string {
	return fmt.Sprintf("%s.%s.%s", Channel(collection), id, op)
}

// OperationPattern matches op on any document of any collection.
func OperationPattern(op Operation) string {
	return "databases.*.collections.*.documents.*." + string(op)
}

// NewEvent describes op applied to doc.
func NewEvent(op Operation, doc Document, at time.Time) Event {
	return Event{
		Events: []string{
			EventName(doc.Collection, doc.ID, op),
			fmt.Sprintf("%s.%s", Channel(doc.Collection), op),
		},
		Channels:  []string{Channel(doc.Collection)},
		Payload:   doc,
		Timestamp: at.UTC(),
	}
}

// Has reports whether any of the event names carries op.
func (e Event) Has(op Operation) bool {
	pattern := OperationPattern(op)
	for _, name := range e.Events {
		if MatchEvent(pattern, name) {
			return true
		}
	}
	return false
}

// Collection returns the collection the event belongs to.
func (e Event) Collection() string {
	if e.Payload.Collection != "" {
		return e.Payload.Collection
	}
	for _, ch := range e.Channels {
		parts := strings.Split(ch, ".")
		if len(parts) == 5 && parts[0] == "databases" && parts[2] == "collections" {
			return parts[3]
		}
	}
	return ""
}

// OnChannel reports whether the event was published on any of channels. Channel
// entries may use "*" segments.
func (e Event) OnChannel(channels []string) bool {
	for _, want := range channels {
		for _, got := range e.Channels {
			if MatchEvent(want, got) {
				return true
			}
		}
	}
	return false
}

// MatchEvent compares dot-separated names segment by segment. A "*" pattern segment
// matches any single segment.
func MatchEvent(pattern, name string) bool {
	ps := strings.Split(pattern, ".")
	ns := strings.Split(name, ".")
	if len(ps) != len(ns) {
		return false
	}
	for i := range ps {
		if ps[i] != "*" && ps[i] != ns[i] {
			return false
		}
	}
	return true
}
