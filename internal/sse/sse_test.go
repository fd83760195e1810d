package sse

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestWriter(t *testing.T) (*Writer, *httptest.ResponseRecorder) {
	t.Helper()
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec, time.Hour) // heartbeat out of the way
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	t.Cleanup(func() { w.Close("") })
	return w, rec
}

func TestWriter_Headers(t *testing.T) {
	_, rec := newTestWriter(t)
	h := rec.Header()
	if got := h.Get("Content-Type"); got != "text/event-stream; charset=utf-8" {
		t.Fatalf("content type = %q", got)
	}
	if got := h.Get("Cache-Control"); got != "no-cache, no-transform" {
		t.Fatalf("cache control = %q", got)
	}
	if got := h.Get("X-Accel-Buffering"); got != "no" {
		t.Fatalf("buffering header = %q", got)
	}
}

func TestWriter_SendJSONEvent(t *testing.T) {
	w, rec := newTestWriter(t)
	if err := w.Send(map[string]string{"stage": "plan"}, SendOptions{Event: "progress", ID: "1"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	got := rec.Body.String()
	want := "id: 1\nevent: progress\ndata: {\"stage\":\"plan\"}\n\n"
	if got != want {
		t.Fatalf("frame = %q, want %q", got, want)
	}
}

func TestWriter_RawMultilineData(t *testing.T) {
	w, rec := newTestWriter(t)
	if err := w.Send("line one\nline two", SendOptions{Event: "token", Raw: true}); err != nil {
		t.Fatalf("send: %v", err)
	}
	got := rec.Body.String()
	want := "event: token\ndata: line one\ndata: line two\n\n"
	if got != want {
		t.Fatalf("frame = %q", got)
	}
}

func TestWriter_ClosedIsNoop(t *testing.T) {
	w, rec := newTestWriter(t)
	w.Close("finished")
	if err := w.Send("x", SendOptions{Raw: true}); err == nil {
		t.Fatal("send after close must error")
	}
	before := rec.Body.Len()
	w.Comment("late")
	w.Close("again")
	if rec.Body.Len() != before {
		t.Fatal("writes after close leaked to the stream")
	}
}

func TestDecoder_RoundTrip(t *testing.T) {
	w, rec := newTestWriter(t)
	w.Comment("ping")
	_ = w.Send(map[string]string{"stage": "search"}, SendOptions{Event: "progress"})
	_ = w.Send("delta", SendOptions{Event: "token", Raw: true})

	var d Decoder
	events := d.Feed(rec.Body.Bytes())
	if len(events) != 2 {
		t.Fatalf("events = %d: %+v", len(events), events)
	}
	if events[0].Name != "progress" || !strings.Contains(events[0].Data, "search") {
		t.Fatalf("event 0 = %+v", events[0])
	}
	if events[1].Name != "token" || events[1].Data != "delta" {
		t.Fatalf("event 1 = %+v", events[1])
	}
	if len(d.Comments) != 1 || d.Comments[0] != "ping" {
		t.Fatalf("comments = %v", d.Comments)
	}
}

func TestDecoder_ChunkBoundaries(t *testing.T) {
	frame := "event: answer\ndata: {\"text\":\"full\"}\n\nevent: done\ndata: {\"threadId\":\"t1\"}\n\n"
	var d Decoder
	var events []Event
	// Feed one byte at a time to exercise every boundary.
	for i := 0; i < len(frame); i++ {
		events = append(events, d.Feed([]byte{frame[i]})...)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d", len(events))
	}
	if events[0].Name != "answer" || events[1].Name != "done" {
		t.Fatalf("events = %+v", events)
	}
}

func TestDecoder_CRLFAndMultilineData(t *testing.T) {
	var d Decoder
	events := d.Feed([]byte("event: token\r\ndata: a\r\ndata: b\r\n\r\n"))
	if len(events) != 1 {
		t.Fatalf("events = %d", len(events))
	}
	if events[0].Data != "a\nb" {
		t.Fatalf("data = %q", events[0].Data)
	}
}

func TestDecoder_RetryAndUnknownFields(t *testing.T) {
	var d Decoder
	events := d.Feed([]byte("retry: 1500\nmystery: ignored\ndata: x\n\n"))
	if len(events) != 1 {
		t.Fatalf("events = %d", len(events))
	}
	if events[0].Retry != 1500*time.Millisecond {
		t.Fatalf("retry = %v", events[0].Retry)
	}
	if events[0].Data != "x" {
		t.Fatalf("data = %q", events[0].Data)
	}
}
