package registry

import (
	"encoding/json"
	"fmt"

	"github.com/nerrad567/tep-core/internal/bus"
	"github.com/nerrad567/tep-core/internal/message"
)

// Announcement builds the global/alive message carrying e.
func Announcement(e Entry) (*message.Message, error) {
	return message.WithArguments(bus.AliveTopic, map[string]any{
		"component_name": e.Name,
		"version":        e.Version,
		"date":           e.Date,
		"state":          string(e.State),
	}, message.WithSource(e.Name))
}

// EntryFromArguments decodes the arguments of a global/alive message.
//
// component_name, date and state are required; version is optional.
func EntryFromArguments(args map[string]any) (Entry, error) {
	var e Entry
	var ok bool

	if e.Name, ok = args["component_name"].(string); !ok || e.Name == "" {
		return Entry{}, fmt.Errorf("%w: missing component_name", ErrInvalidAnnouncement)
	}
	state, _ := args["state"].(string)
	switch State(state) {
	case StateInit, StateAlive, StateNotAlive:
		e.State = State(state)
	default:
		return Entry{}, fmt.Errorf("%w: unknown state %q", ErrInvalidAnnouncement, state)
	}

	switch d := args["date"].(type) {
	case float64:
		e.Date = d
	case int:
		e.Date = float64(d)
	case int64:
		e.Date = float64(d)
	case json.Number:
		f, err := d.Float64()
		if err != nil {
			return Entry{}, fmt.Errorf("%w: date: %w", ErrInvalidAnnouncement, err)
		}
		e.Date = f
	default:
		return Entry{}, fmt.Errorf("%w: missing date", ErrInvalidAnnouncement)
	}

	e.Version, _ = args["version"].(string)
	return e, nil
}
