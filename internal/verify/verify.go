// Package verify extracts atomic, quote-backed claims from a generated
// answer and binds each quote to character offsets inside its chunk.
package verify

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/citeseek/citeseek/internal/llm"
	"github.com/citeseek/citeseek/internal/prompts"
	"github.com/citeseek/citeseek/internal/textkit"
)

// Snippet is one context excerpt the answer was grounded on. ChunkID may be
// empty for snippets that do not map to a stored chunk.
type Snippet struct {
	SourceID string
	ChunkID  string
	Text     string
}

// Evidence ties a claim to a verbatim quote within a chunk. CharStart and
// CharEnd are byte offsets into the chunk text; nil when the quote could not
// be located.
type Evidence struct {
	SourceID  string   `json:"sourceId"`
	ChunkID   string   `json:"chunkId,omitempty"`
	Quote     string   `json:"quote"`
	CharStart *int     `json:"charStart,omitempty"`
	CharEnd   *int     `json:"charEnd,omitempty"`
	Score     *float64 `json:"score,omitempty"`
}

// Claim is one extracted, checkable statement.
type Claim struct {
	Text              string     `json:"text"`
	ClaimType         string     `json:"claimType,omitempty"`
	SupportScore      float64    `json:"supportScore"`
	Contradicted      bool       `json:"contradicted"`
	UncertaintyReason string     `json:"uncertaintyReason,omitempty"`
	Evidence          []Evidence `json:"evidence"`
}

// Options tune one verification pass.
type Options struct {
	// MaxClaims caps the extracted list; 0 means 8.
	MaxClaims int
	// SkipOffsets leaves quote offsets unbound.
	SkipOffsets bool
	// NLICheck runs pairwise contradiction checks across sources.
	NLICheck bool
	// NLIMaxPairsPerClaim caps pairs per claim; 0 means 2.
	NLIMaxPairsPerClaim int
}

func (o Options) maxClaims() int {
	if o.MaxClaims > 0 {
		return o.MaxClaims
	}
	return 8
}

func (o Options) nliMaxPairs() int {
	if o.NLIMaxPairsPerClaim > 0 {
		return o.NLIMaxPairsPerClaim
	}
	return 2
}

// contradictionPenalty is subtracted from supportScore when any evidence
// pair contradicts.
const contradictionPenalty = 0.15

// Verifier runs the claim-extraction model pass and post-processes its
// output against the snippet context.
type Verifier struct {
	Gateway *llm.Gateway
}

// Verify extracts claims from answerMarkdown. Model or parse failures
// degrade to an empty claim list with no error; only context cancellation
// propagates.
func (v *Verifier) Verify(ctx context.Context, answerMarkdown string, snippets []Snippet, opts Options) ([]Claim, error) {
	if strings.TrimSpace(answerMarkdown) == "" || len(snippets) == 0 {
		return nil, nil
	}
	p := prompts.Verify(answerMarkdown, toPromptSnippets(snippets), opts.maxClaims())
	raw, err := v.Gateway.Generate(ctx, llm.Request{Alias: llm.AliasVerify, System: p.System, Prompt: p.User})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn().Err(err).Msg("verify model call failed, returning no claims")
		return nil, nil
	}
	claims := ParseClaims(raw)
	claims = filterClaims(claims, snippets, opts.maxClaims())
	if !opts.SkipOffsets {
		bindOffsets(claims, snippets)
	}
	if opts.NLICheck {
		v.checkContradictions(ctx, claims, opts.nliMaxPairs())
	}
	return claims, nil
}

func toPromptSnippets(snippets []Snippet) []prompts.Snippet {
	out := make([]prompts.Snippet, len(snippets))
	for i, s := range snippets {
		out[i] = prompts.Snippet{SourceID: s.SourceID, ChunkID: s.ChunkID, Text: s.Text}
	}
	return out
}

// filterClaims schema-validates and drops evidence pointing outside the
// active snippet context. Claims left with no evidence are dropped too.
func filterClaims(claims []Claim, snippets []Snippet, maxClaims int) []Claim {
	sources := make(map[string]struct{}, len(snippets))
	chunks := make(map[string]string, len(snippets)) // chunkID -> sourceID
	for _, s := range snippets {
		sources[s.SourceID] = struct{}{}
		if s.ChunkID != "" {
			chunks[s.ChunkID] = s.SourceID
		}
	}
	out := make([]Claim, 0, len(claims))
	for _, c := range claims {
		c.Text = strings.TrimSpace(c.Text)
		if c.Text == "" {
			continue
		}
		c.SupportScore = clamp01(c.SupportScore)
		kept := c.Evidence[:0]
		for _, e := range c.Evidence {
			if strings.TrimSpace(e.Quote) == "" {
				continue
			}
			if _, ok := sources[e.SourceID]; !ok {
				continue
			}
			if e.ChunkID != "" {
				owner, ok := chunks[e.ChunkID]
				if !ok || owner != e.SourceID {
					continue
				}
			}
			kept = append(kept, e)
		}
		c.Evidence = kept
		if len(c.Evidence) == 0 {
			continue
		}
		out = append(out, c)
		if len(out) >= maxClaims {
			break
		}
	}
	return out
}

// bindOffsets resolves each quote inside its chunk text with tolerant
// matching. Evidence naming only a source is searched across all of that
// source's snippets and adopts the chunk it binds in. Quotes that cannot be
// located keep nil offsets.
func bindOffsets(claims []Claim, snippets []Snippet) {
	texts := make(map[string]string, len(snippets))
	bySource := make(map[string][]Snippet, len(snippets))
	for _, s := range snippets {
		if s.ChunkID != "" {
			texts[s.ChunkID] = s.Text
		}
		bySource[s.SourceID] = append(bySource[s.SourceID], s)
	}
	for ci := range claims {
		for ei := range claims[ci].Evidence {
			e := &claims[ci].Evidence[ei]
			if e.ChunkID == "" {
				for _, s := range bySource[e.SourceID] {
					start, end, found := textkit.FindQuoteOffsets(s.Text, e.Quote)
					if found {
						e.ChunkID = s.ChunkID
						e.CharStart, e.CharEnd = &start, &end
						break
					}
				}
				continue
			}
			hay, ok := texts[e.ChunkID]
			if !ok {
				continue
			}
			start, end, found := textkit.FindQuoteOffsets(hay, e.Quote)
			if !found {
				continue
			}
			e.CharStart, e.CharEnd = &start, &end
		}
	}
}

type nliVerdict struct {
	Label     string `json:"label"`
	Rationale string `json:"rationale"`
}

// checkContradictions runs the NLI prompt over evidence pairs drawn from
// different sources. Any "contradict" verdict flags the claim and lowers its
// support score.
func (v *Verifier) checkContradictions(ctx context.Context, claims []Claim, maxPairs int) {
	for ci := range claims {
		c := &claims[ci]
		pairs := crossSourcePairs(c.Evidence, maxPairs)
		for _, pr := range pairs {
			p := prompts.NLI(c.Text, c.Evidence[pr[0]].Quote, c.Evidence[pr[1]].Quote)
			raw, err := v.Gateway.Generate(ctx, llm.Request{Alias: llm.AliasVerify, System: p.System, Prompt: p.User})
			if err != nil {
				log.Warn().Err(err).Msg("nli call failed, skipping pair")
				continue
			}
			var verdict nliVerdict
			if err := DecodeLoose(raw, &verdict); err != nil {
				continue
			}
			if strings.EqualFold(verdict.Label, "contradict") {
				c.Contradicted = true
				if c.UncertaintyReason == "" {
					c.UncertaintyReason = verdict.Rationale
				}
				c.SupportScore = clamp01(c.SupportScore - contradictionPenalty)
				break
			}
		}
	}
}

// crossSourcePairs returns up to maxPairs index pairs of evidence items from
// different sources.
func crossSourcePairs(ev []Evidence, maxPairs int) [][2]int {
	var out [][2]int
	for i := 0; i < len(ev) && len(out) < maxPairs; i++ {
		for j := i + 1; j < len(ev) && len(out) < maxPairs; j++ {
			if ev[i].SourceID != ev[j].SourceID {
				out = append(out, [2]int{i, j})
			}
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
