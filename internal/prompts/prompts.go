package prompts

import (
	"fmt"
	"strings"
)

// Pair is a ready-to-send system+user prompt.
type Pair struct {
	System string
	User   string
}

// SourceRef is one numbered entry in the answer prompt's sources list.
// Index is 1-based and matches the inline [n] citations the model must emit.
type SourceRef struct {
	Index  int
	ID     string
	URL    string
	Title  string
	Domain string
}

// Snippet is one context excerpt handed to the model. SourceIndex refers to
// the SourceRef with the same Index.
type Snippet struct {
	SourceID    string
	ChunkID     string
	SourceIndex int
	Text        string
}

// PlanConstraints carries the operational constraints the planner should
// fold into its subqueries.
type PlanConstraints struct {
	TimeFrom string
	TimeTo   string
	Region   string
	Allowed  []string
	Denied   []string
}

const planSystem = `You are a research planning assistant. Respond with strict JSON only, no narration, no code fences. The JSON schema is {"intent": string, "subqueries": string[2..6], "focus": string[0..4], "constraints": {"timeRange"?: string, "region"?: string}}. Subqueries must be diverse, concise web search queries that together cover the question, including at least one that seeks counter-evidence or limitations.`

// Plan builds the planning prompt. depth hints how many subqueries to aim
// for; the caller still enforces its own cap.
func Plan(question, depth string, c PlanConstraints) Pair {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", question)
	if depth != "" {
		fmt.Fprintf(&b, "Depth: %s\n", depth)
	}
	if c.TimeFrom != "" || c.TimeTo != "" {
		fmt.Fprintf(&b, "Time range: %s..%s\n", c.TimeFrom, c.TimeTo)
	}
	if c.Region != "" {
		fmt.Fprintf(&b, "Region: %s\n", c.Region)
	}
	if len(c.Allowed) > 0 {
		fmt.Fprintf(&b, "Prefer domains: %s\n", strings.Join(c.Allowed, ", "))
	}
	if len(c.Denied) > 0 {
		fmt.Fprintf(&b, "Avoid domains: %s\n", strings.Join(c.Denied, ", "))
	}
	b.WriteString("Return the JSON plan now.")
	return Pair{System: planSystem, User: b.String()}
}

const answerSystem = `You are a careful research writer. Use ONLY the provided source excerpts for facts. Cite precisely with bracketed numeric indices like [1] that map to the numbered sources list; place the citation immediately after the claim it supports. Write Markdown only. Do not add a bibliography or references section. Do not invent sources. If the excerpts do not answer the question, say so plainly instead of speculating.`

// Answer builds the cited-answer prompt from numbered sources and their
// budgeted excerpts.
func Answer(question string, refs []SourceRef, snippets []Snippet) Pair {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nSources:\n", question)
	for _, r := range refs {
		title := r.Title
		if title == "" {
			title = r.Domain
		}
		fmt.Fprintf(&b, "[%d] %s — %s\n", r.Index, title, r.URL)
	}
	b.WriteString("\nExcerpts:\n")
	for _, s := range snippets {
		fmt.Fprintf(&b, "--- [%d]\n%s\n", s.SourceIndex, s.Text)
	}
	b.WriteString("\nWrite the answer in Markdown with inline [n] citations.")
	return Pair{System: answerSystem, User: b.String()}
}

const verifySystem = `You extract verifiable claims from an answer. Respond with strict JSON only, no prose, no code fences. The JSON schema is {"claims":[{"text": string, "claimType": string, "supportScore": number 0..1, "contradicted": boolean, "uncertaintyReason"?: string, "evidence":[{"sourceId": string, "chunkId"?: string, "quote": string}]}]}. Each claim must be atomic (one checkable statement) and every evidence quote must be copied verbatim from the provided excerpts. Omit claims with no supporting quote.`

// Verify builds the claim-extraction prompt. maxClaims caps the list the
// model may return.
func Verify(answerMarkdown string, snippets []Snippet, maxClaims int) Pair {
	var b strings.Builder
	fmt.Fprintf(&b, "Answer:\n%s\n\nExcerpts:\n", answerMarkdown)
	for _, s := range snippets {
		if s.ChunkID != "" {
			fmt.Fprintf(&b, "--- sourceId=%s chunkId=%s\n%s\n", s.SourceID, s.ChunkID, s.Text)
		} else {
			fmt.Fprintf(&b, "--- sourceId=%s\n%s\n", s.SourceID, s.Text)
		}
	}
	fmt.Fprintf(&b, "\nExtract at most %d claims. Return the JSON now.", maxClaims)
	return Pair{System: verifySystem, User: b.String()}
}

const nliSystem = `You judge whether two quotes about the same claim agree. Respond with strict JSON only, no code fences: {"label": "entail"|"contradict"|"neutral", "rationale": string}. "contradict" means the quotes cannot both be true.`

// NLI builds the pairwise contradiction-check prompt for one claim.
func NLI(claim, quoteA, quoteB string) Pair {
	user := fmt.Sprintf("Claim: %s\n\nQuote A: %s\n\nQuote B: %s\n\nReturn the JSON verdict.", claim, quoteA, quoteB)
	return Pair{System: nliSystem, User: user}
}

const sourceTrustSystem = `You assess how trustworthy a web source is for factual research. Respond with strict JSON only, no code fences: {"trust": number 0..1, "reason": string}. Consider domain reputation, content type, and signs of marketing or user-generated content.`

// SourceTrust builds a quick trust-assessment prompt for one source.
func SourceTrust(url, title, excerpt string) Pair {
	user := fmt.Sprintf("URL: %s\nTitle: %s\n\nExcerpt:\n%s\n\nReturn the JSON assessment.", url, title, excerpt)
	return Pair{System: sourceTrustSystem, User: user}
}
