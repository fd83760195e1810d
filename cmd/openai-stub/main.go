// openai-stub is a tiny OpenAI-compatible test server. It answers the
// planner, writer, verifier, and NLI prompts with canned but well-formed
// replies so the full pipeline can run without a real model.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
)

type chatRequest struct {
	Model    string `json:"model"`
	Stream   bool   `json:"stream"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func main() {
	model := os.Getenv("MODEL_ID")
	if strings.TrimSpace(model) == "" {
		model = "test-model"
	}
	addr := os.Getenv("ADDR")
	if strings.TrimSpace(addr) == "" {
		addr = ":8081"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"id": model, "object": "model"}},
		})
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req chatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		sys, user := "", ""
		if len(req.Messages) > 0 {
			sys = strings.TrimSpace(req.Messages[0].Content)
		}
		if len(req.Messages) >= 2 {
			user = req.Messages[1].Content
		}

		var content string
		switch {
		case strings.Contains(sys, "research planning assistant"):
			plan := map[string]any{
				"intent": "test",
				"subqueries": []string{
					"system test overview",
					"system test limitations",
				},
				"focus":       []string{},
				"constraints": map[string]any{},
			}
			b, _ := json.Marshal(plan)
			content = string(b)
		case strings.Contains(sys, "careful research writer"):
			content = "The system under test behaves as documented [1]. Counter-evidence was not found [2]."
		case strings.Contains(sys, "extract verifiable claims"):
			content = verifyReply(user)
		case strings.Contains(sys, "judge whether two quotes"):
			content = `{"label":"neutral","rationale":"quotes cover different aspects"}`
		default:
			http.Error(w, "unexpected system", http.StatusBadRequest)
			return
		}

		if req.Stream {
			streamContent(w, req.Model, content)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": content}},
			},
		})
	})

	log.Printf("openai-stub listening on %s (model=%s)", addr, model)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal(err)
	}
}

// verifyReply builds a claims reply whose evidence quotes verbatim text from
// the first excerpt block, so offset binding succeeds downstream.
func verifyReply(user string) string {
	sourceID, chunkID, quote := "", "", ""
	lines := strings.Split(user, "\n")
	for i, line := range lines {
		if !strings.HasPrefix(line, "--- sourceId=") {
			continue
		}
		fields := strings.Fields(strings.TrimPrefix(line, "--- "))
		for _, f := range fields {
			if v, ok := strings.CutPrefix(f, "sourceId="); ok {
				sourceID = v
			}
			if v, ok := strings.CutPrefix(f, "chunkId="); ok {
				chunkID = v
			}
		}
		if i+1 < len(lines) {
			quote = strings.TrimSpace(lines[i+1])
		}
		break
	}
	if sourceID == "" || quote == "" {
		return `{"claims":[]}`
	}
	ev := map[string]any{"sourceId": sourceID, "quote": quote}
	if chunkID != "" {
		ev["chunkId"] = chunkID
	}
	reply := map[string]any{
		"claims": []map[string]any{{
			"text":         "The system under test behaves as documented.",
			"claimType":    "fact",
			"supportScore": 0.9,
			"contradicted": false,
			"evidence":     []map[string]any{ev},
		}},
	}
	b, _ := json.Marshal(reply)
	return string(b)
}

// streamContent replays content as OpenAI SSE chunks, a few words at a time.
func streamContent(w http.ResponseWriter, model, content string) {
	fl, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")

	words := strings.SplitAfter(content, " ")
	for i := 0; i < len(words); i += 3 {
		end := i + 3
		if end > len(words) {
			end = len(words)
		}
		chunk := map[string]any{
			"model": model,
			"choices": []map[string]any{
				{"delta": map[string]string{"content": strings.Join(words[i:end], "")}},
			},
		}
		b, _ := json.Marshal(chunk)
		fmt.Fprintf(w, "data: %s\n\n", b)
		fl.Flush()
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	fl.Flush()
}
