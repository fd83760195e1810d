package pipeline

import "github.com/citeseek/citeseek/internal/verify"

// Event names on the research stream.
const (
	EventProgress = "progress"
	EventSources  = "sources"
	EventToken    = "token"
	EventAnswer   = "answer"
	EventClaims   = "claims"
	EventError    = "error"
	EventDone     = "done"
)

// Pipeline stages, in order.
const (
	StagePlan   = "plan"
	StageSearch = "search"
	StageRead   = "read"
	StageRank   = "rank"
	StageAnswer = "answer"
	StageVerify = "verify"
)

// Emit delivers one named event to the client. Token events carry a plain
// string; everything else carries a JSON-encodable payload. A non-nil error
// aborts the run.
type Emit func(event string, data any) error

// Progress is the payload of progress events.
type Progress struct {
	Stage   string         `json:"stage"`
	Message string         `json:"message,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// SourceItem is one entry of the sources event. Index is 1-based and
// matches the [n] citations in the streamed answer.
type SourceItem struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Title  string `json:"title,omitempty"`
	Domain string `json:"domain,omitempty"`
	Index  int    `json:"index"`
}

// AnswerPayload carries the full answer text after streaming completes.
type AnswerPayload struct {
	Text string `json:"text"`
}

// ClaimsPayload carries the verified claims.
type ClaimsPayload struct {
	Claims []verify.Claim `json:"claims"`
}

// ErrorPayload is the terminal error event.
type ErrorPayload struct {
	Message string `json:"message"`
}

// DonePayload is the terminal success event.
type DonePayload struct {
	ThreadID string `json:"threadId"`
}
