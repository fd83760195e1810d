package sse

import (
	"strconv"
	"strings"
	"time"
)

// Event is one decoded SSE frame.
type Event struct {
	Name  string // empty means the default "message" event
	Data  string // multi-line data joined by \n
	ID    string
	Retry time.Duration
}

// Decoder accumulates raw stream bytes and yields complete events. It is
// robust to arbitrary chunk boundaries: feed it whatever arrived and collect
// the events that completed.
type Decoder struct {
	buf strings.Builder
	// Comments collects comment lines seen so far; heartbeats land here.
	Comments []string
}

// Feed appends raw bytes and returns all events completed by them.
func (d *Decoder) Feed(p []byte) []Event {
	d.buf.Write(p)
	s := strings.ReplaceAll(d.buf.String(), "\r\n", "\n")

	var events []Event
	for {
		i := strings.Index(s, "\n\n")
		if i < 0 {
			break
		}
		block := s[:i]
		s = s[i+2:]
		if ev, ok := d.parseBlock(block); ok {
			events = append(events, ev)
		}
	}
	d.buf.Reset()
	d.buf.WriteString(s)
	return events
}

func (d *Decoder) parseBlock(block string) (Event, bool) {
	var ev Event
	var dataLines []string
	sawField := false
	for _, line := range strings.Split(block, "\n") {
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ":") {
			d.Comments = append(d.Comments, strings.TrimPrefix(strings.TrimPrefix(line, ":"), " "))
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			ev.Name = value
			sawField = true
		case "data":
			dataLines = append(dataLines, value)
			sawField = true
		case "id":
			ev.ID = value
			sawField = true
		case "retry":
			if ms, err := strconv.Atoi(value); err == nil {
				ev.Retry = time.Duration(ms) * time.Millisecond
			}
			sawField = true
		default:
			// Unknown fields are ignored, as event streams require.
		}
	}
	if !sawField {
		return Event{}, false
	}
	ev.Data = strings.Join(dataLines, "\n")
	return ev, true
}
