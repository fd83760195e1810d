package pipeline

import (
	"context"
	"errors"
	"io"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/citeseek/citeseek/internal/ingest"
	"github.com/citeseek/citeseek/internal/llm"
	"github.com/citeseek/citeseek/internal/rank"
	"github.com/citeseek/citeseek/internal/reader"
	"github.com/citeseek/citeseek/internal/search"
	"github.com/citeseek/citeseek/internal/store"
	"github.com/citeseek/citeseek/internal/verify"
)

// scriptedChat branches on the resolved model name so each alias can be
// scripted independently.
type scriptedChat struct {
	mu          sync.Mutex
	planReply   string
	planErr     error
	verifyReply string
	// verifyFn, when set, builds the verify reply from the user prompt so
	// tests can echo real source ids back.
	verifyFn func(user string) string
	// streamScript holds the deltas for successive stream calls; a nil
	// entry means that call fails with streamErr.
	streamScript [][]string
	streamErr    error
	streamCalls  int
}

func (c *scriptedChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var reply string
	switch req.Model {
	case "m-plan":
		if c.planErr != nil {
			return openai.ChatCompletionResponse{}, c.planErr
		}
		reply = c.planReply
	case "m-verify":
		reply = c.verifyReply
		if c.verifyFn != nil {
			for _, m := range req.Messages {
				if m.Role == openai.ChatMessageRoleUser {
					reply = c.verifyFn(m.Content)
				}
			}
		}
	default:
		reply = "{}"
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: reply}}},
	}, nil
}

func (c *scriptedChat) CreateChatCompletionStream(context.Context, openai.ChatCompletionRequest) (llm.ChatStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.streamCalls >= len(c.streamScript) {
		return nil, errors.New("unexpected stream call")
	}
	deltas := c.streamScript[c.streamCalls]
	c.streamCalls++
	if deltas == nil {
		return nil, c.streamErr
	}
	return &scriptedStream{deltas: deltas}, nil
}

type scriptedStream struct {
	deltas []string
	i      int
}

func (s *scriptedStream) Recv() (openai.ChatCompletionStreamResponse, error) {
	if s.i >= len(s.deltas) {
		return openai.ChatCompletionStreamResponse{}, io.EOF
	}
	d := s.deltas[s.i]
	s.i++
	return openai.ChatCompletionStreamResponse{
		Choices: []openai.ChatCompletionStreamChoice{{Delta: openai.ChatCompletionStreamChoiceDelta{Content: d}}},
	}, nil
}

func (s *scriptedStream) Close() error { return nil }

// fixedSearch returns the same results for every query.
type fixedSearch struct {
	results []search.Result
}

func (f *fixedSearch) Search(context.Context, string, search.Options) ([]search.Result, error) {
	return f.results, nil
}

// pathPages serves page text keyed by URL path.
type pathPages struct {
	pages map[string]string
}

func (p *pathPages) Read(_ context.Context, rawURL string) (*reader.Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	text, ok := p.pages[u.Path]
	if !ok {
		return nil, errors.New("not found")
	}
	return &reader.Result{Text: text, Title: "Page " + u.Path, HTTPStatus: 200}, nil
}

type recordedEvent struct {
	name string
	data any
}

// recorder collects events; progress events arrive from pool goroutines so
// it must be safe for concurrent use.
type recorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recorder) emit(event string, data any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{name: event, data: data})
	return nil
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.name
	}
	return out
}

func (r *recorder) tokensText() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sb strings.Builder
	for _, e := range r.events {
		if e.name == EventToken {
			sb.WriteString(e.data.(string))
		}
	}
	return sb.String()
}

func (r *recorder) count(name string) int {
	n := 0
	for _, e := range r.names() {
		if e == name {
			n++
		}
	}
	return n
}

func (r *recorder) indexOf(name string) int {
	for i, e := range r.names() {
		if e == name {
			return i
		}
	}
	return -1
}

const solarPage = `Solar energy storage pairs photovoltaic generation with batteries.
Lithium iron phosphate cells store surplus solar energy during the day.
At night the stored energy is discharged back into the home circuits.
Thermal storage is an alternative: molten salt retains solar heat for hours.
Grid-scale solar energy storage smooths output across weather changes.`

func newTestOrchestrator(t *testing.T, chat *scriptedChat, searcher Searcher) (*Orchestrator, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "pipeline.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	gw := &llm.Gateway{
		Client: chat,
		Models: llm.Models{Default: "m", Plan: "m-plan", Answer: "m-answer", Verify: "m-verify"},
	}
	pages := &pathPages{pages: map[string]string{
		"/solar-batteries": solarPage,
		"/molten-salt":     solarPage + "\nMolten salt plants in Spain run turbines after sunset.",
	}}
	o := &Orchestrator{
		Store:    st,
		Search:   searcher,
		Ingestor: &ingest.Ingestor{Store: st, Reader: pages},
		Ranker:   &rank.Ranker{Store: st},
		Gateway:  gw,
		Verifier: &verify.Verifier{Gateway: gw},
		Settings: Settings{SkipVerifyOnTPM: true},
	}
	return o, st
}

func defaultResults() []search.Result {
	return []search.Result{
		{URL: "https://example.com/solar-batteries", Title: "Solar batteries"},
		{URL: "https://example.org/molten-salt", Title: "Molten salt storage"},
	}
}

func TestRun_EventOrder(t *testing.T) {
	chat := &scriptedChat{
		planReply:    `{"intent":"explain","subqueries":["solar battery storage","molten salt solar storage"]}`,
		verifyReply:  `{"claims":[]}`,
		streamScript: [][]string{{"Solar energy ", "is stored in ", "batteries [1]."}},
	}
	o, st := newTestOrchestrator(t, chat, &fixedSearch{results: defaultResults()})

	rec := &recorder{}
	req := Request{Question: "How does solar energy storage work?", Depth: "normal"}
	if err := o.Run(context.Background(), req, rec.emit); err != nil {
		t.Fatalf("run: %v", err)
	}

	names := rec.names()
	if len(names) == 0 || names[0] != EventProgress {
		t.Fatalf("first event = %v", names)
	}
	if rec.count(EventDone) != 1 || names[len(names)-1] != EventDone {
		t.Fatalf("done must be the single last event: %v", names)
	}
	if rec.count(EventError) != 0 {
		t.Fatalf("unexpected error event: %v", names)
	}
	if rec.count(EventSources) != 1 {
		t.Fatalf("sources emitted %d times", rec.count(EventSources))
	}
	if si, ti := rec.indexOf(EventSources), rec.indexOf(EventToken); ti >= 0 && si > ti {
		t.Fatal("sources must precede the first token")
	}
	if ai, ci := rec.indexOf(EventAnswer), rec.indexOf(EventClaims); ci < ai || ci < 0 {
		t.Fatalf("claims must follow answer: answer=%d claims=%d", ai, ci)
	}

	var answerText string
	for _, e := range rec.events {
		if e.name == EventAnswer {
			answerText = e.data.(AnswerPayload).Text
		}
	}
	if answerText != "Solar energy is stored in batteries [1]." {
		t.Fatalf("answer = %q", answerText)
	}
	if got := rec.tokensText(); got != answerText {
		t.Fatalf("token concatenation %q != answer %q", got, answerText)
	}

	// Both pages contributed, so sources carries two 1-based entries.
	var items []SourceItem
	for _, e := range rec.events {
		if e.name == EventSources {
			items = e.data.([]SourceItem)
		}
	}
	if len(items) != 2 {
		t.Fatalf("sources = %+v", items)
	}
	for i, it := range items {
		if it.Index != i+1 || it.ID == "" || it.URL == "" {
			t.Fatalf("source %d = %+v", i, it)
		}
	}

	// One done payload carries the thread, and both messages landed.
	done := rec.events[len(rec.events)-1].data.(DonePayload)
	msgs, err := st.ListMessages(context.Background(), done.ThreadID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Fatalf("messages = %+v", msgs)
	}
	if msgs[1].ContentMD != answerText {
		t.Fatalf("persisted answer = %q", msgs[1].ContentMD)
	}
}

func TestRun_NoSearchResults(t *testing.T) {
	chat := &scriptedChat{
		planErr: errors.New("planner offline"),
	}
	o, st := newTestOrchestrator(t, chat, &fixedSearch{})

	rec := &recorder{}
	err := o.Run(context.Background(), Request{Question: "anything at all"}, rec.emit)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	names := rec.names()
	if rec.count(EventToken) != 0 || rec.count(EventAnswer) != 0 {
		t.Fatalf("no answer expected: %v", names)
	}
	if rec.count(EventSources) != 1 || rec.count(EventClaims) != 1 || rec.count(EventDone) != 1 {
		t.Fatalf("events = %v", names)
	}
	var items []SourceItem
	for _, e := range rec.events {
		if e.name == EventSources {
			items = e.data.([]SourceItem)
		}
	}
	if len(items) != 0 {
		t.Fatalf("sources = %+v", items)
	}

	done := rec.events[len(rec.events)-1].data.(DonePayload)
	msgs, err := st.ListMessages(context.Background(), done.ThreadID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("messages = %+v", msgs)
	}
	if !strings.HasPrefix(msgs[1].ContentMD, "I could not find suitable sources") {
		t.Fatalf("assistant message = %q", msgs[1].ContentMD)
	}
}

func TestRun_ChunklessEvidencePersists(t *testing.T) {
	// The verify schema makes chunkId optional; a reply naming only a source
	// must still persist and reach the client as a claims event before done.
	chat := &scriptedChat{
		planReply:    `{"subqueries":["solar energy storage"]}`,
		streamScript: [][]string{{"Molten salt retains solar heat [1]."}},
		verifyFn: func(user string) string {
			_, rest, ok := strings.Cut(user, "sourceId=")
			if !ok {
				return `{"claims":[]}`
			}
			sid := strings.Fields(rest)[0]
			return `{"claims":[{"text":"Molten salt retains solar heat.","supportScore":0.9,` +
				`"evidence":[{"sourceId":"` + sid + `","quote":"molten salt retains solar heat"}]}]}`
		},
	}
	o, st := newTestOrchestrator(t, chat, &fixedSearch{results: defaultResults()})

	rec := &recorder{}
	if err := o.Run(context.Background(), Request{Question: "How does solar energy storage work?"}, rec.emit); err != nil {
		t.Fatalf("run: %v", err)
	}
	names := rec.names()
	if rec.count(EventError) != 0 || rec.count(EventDone) != 1 || names[len(names)-1] != EventDone {
		t.Fatalf("events = %v", names)
	}
	ci := rec.indexOf(EventClaims)
	if ci < 0 {
		t.Fatal("claims event missing")
	}
	claims := rec.events[ci].data.(ClaimsPayload).Claims
	if len(claims) != 1 || len(claims[0].Evidence) != 1 {
		t.Fatalf("claims = %+v", claims)
	}
	// The quote binds across the source's snippets and adopts a chunk.
	if ev := claims[0].Evidence[0]; ev.ChunkID == "" || ev.CharStart == nil {
		t.Fatalf("evidence not bound: %+v", ev)
	}

	done := rec.events[len(rec.events)-1].data.(DonePayload)
	msgs, err := st.ListMessages(context.Background(), done.ThreadID)
	if err != nil || len(msgs) != 2 {
		t.Fatalf("messages: %v %+v", err, msgs)
	}
	saved, err := st.GetClaims(context.Background(), msgs[1].ID)
	if err != nil {
		t.Fatalf("get claims: %v", err)
	}
	if len(saved) != 1 || len(saved[0].Evidence) != 1 {
		t.Fatalf("persisted claims = %+v", saved)
	}
}

func TestRun_TokenBudgetRetry(t *testing.T) {
	chat := &scriptedChat{
		planReply:   `{"subqueries":["solar energy storage"]}`,
		verifyReply: `{"claims":[]}`,
		streamScript: [][]string{
			nil, // first attempt fails with a budget error
			{"Short answer [1]."},
		},
		streamErr: &openai.APIError{HTTPStatusCode: 429, Message: "Rate limit reached: tokens per minute"},
	}
	o, _ := newTestOrchestrator(t, chat, &fixedSearch{results: defaultResults()})

	rec := &recorder{}
	if err := o.Run(context.Background(), Request{Question: "How does solar energy storage work?"}, rec.emit); err != nil {
		t.Fatalf("run: %v", err)
	}

	var sawRetryNote bool
	for _, e := range rec.events {
		if e.name != EventProgress {
			continue
		}
		p := e.data.(Progress)
		if p.Stage == StageAnswer && strings.Contains(p.Message, "retrying with smaller context") {
			sawRetryNote = true
		}
	}
	if !sawRetryNote {
		t.Fatal("missing smaller-context progress note")
	}
	if got := rec.tokensText(); got != "Short answer [1]." {
		t.Fatalf("tokens = %q", got)
	}
	if chat.streamCalls != 2 {
		t.Fatalf("stream calls = %d", chat.streamCalls)
	}
	// Verify is skipped after a budget hit, but claims still arrives empty.
	ci := rec.indexOf(EventClaims)
	if ci < 0 {
		t.Fatal("claims event missing")
	}
	if got := rec.events[ci].data.(ClaimsPayload); len(got.Claims) != 0 {
		t.Fatalf("claims = %+v", got.Claims)
	}
	if rec.count(EventDone) != 1 {
		t.Fatalf("done count = %d", rec.count(EventDone))
	}
}

// cancelOnToken cancels the context when the first token arrives and
// rejects it, simulating a client that walked away mid-stream.
type cancelOnToken struct {
	recorder
	cancel context.CancelFunc
}

func (c *cancelOnToken) emit(event string, data any) error {
	if event == EventToken {
		c.cancel()
		return context.Canceled
	}
	return c.recorder.emit(event, data)
}

func TestRun_CancellationDuringStream(t *testing.T) {
	chat := &scriptedChat{
		planReply:    `{"subqueries":["solar energy storage"]}`,
		streamScript: [][]string{{"never ", "delivered"}},
	}
	o, _ := newTestOrchestrator(t, chat, &fixedSearch{results: defaultResults()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := &cancelOnToken{cancel: cancel}

	err := o.Run(ctx, Request{Question: "How does solar energy storage work?"}, rec.emit)
	if err == nil {
		t.Fatal("expected an error from the cancelled run")
	}
	names := rec.names()
	for _, n := range names {
		if n == EventDone || n == EventError || n == EventAnswer || n == EventClaims {
			t.Fatalf("event %q after cancellation: %v", n, names)
		}
	}
}

func TestRun_PlanGarbageFallsBack(t *testing.T) {
	chat := &scriptedChat{
		planReply:    "the model rambles instead of returning JSON",
		verifyReply:  `{"claims":[]}`,
		streamScript: [][]string{{"Answer from the naive plan [1]."}},
	}
	o, _ := newTestOrchestrator(t, chat, &fixedSearch{results: defaultResults()})

	rec := &recorder{}
	if err := o.Run(context.Background(), Request{Question: "solar energy storage"}, rec.emit); err != nil {
		t.Fatalf("run: %v", err)
	}
	if rec.count(EventDone) != 1 || rec.count(EventError) != 0 {
		t.Fatalf("events = %v", rec.names())
	}
	if got := rec.tokensText(); got != "Answer from the naive plan [1]." {
		t.Fatalf("tokens = %q", got)
	}
}
