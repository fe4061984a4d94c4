package main

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/miradorstack/mirador-audit/internal/agent"
)

type part struct {
	Text string `json:"text"`
}

// generateRequest is the subset of a generateContent body the mock reads.
type generateRequest struct {
	SystemInstruction struct {
		Parts []part `json:"parts"`
	} `json:"systemInstruction"`
	Contents []struct {
		Parts []part `json:"parts"`
	} `json:"contents"`
}

type section struct {
	ID        int    `json:"id"`
	StartLine int    `json:"startLine"`
	EndLine   int    `json:"endLine"`
	Title     string `json:"title"`
	Context   string `json:"context"`
}

var headingRe = regexp.MustCompile(`^(\d+)\t#{2,4}\s+(.+)$`)

func main() {
	failStage := strings.ToLower(os.Getenv("MOCK_LLM_FAIL_STAGE"))
	addr := os.Getenv("MOCK_LLM_ADDR")
	if addr == "" {
		addr = ":8090"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/v1beta/models/", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		if !strings.HasSuffix(r.URL.Path, ":generateContent") {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request body", http.StatusBadRequest)
			return
		}
		system, user := firstText(req.SystemInstruction.Parts), ""
		if len(req.Contents) > 0 {
			user = firstText(req.Contents[0].Parts)
		}

		stage := stageFor(system)
		if stage == "" {
			http.Error(w, "unknown agent", http.StatusBadRequest)
			return
		}
		if stage == failStage {
			http.Error(w, "injected failure", http.StatusServiceUnavailable)
			return
		}

		var text string
		switch stage {
		case "parser":
			text = parserReply(user)
		case "extractor":
			text = extractorReply(user)
		default:
			text = classifierReply(user)
		}
		writeJSON(w, map[string]any{
			"candidates": []any{
				map[string]any{"content": map[string]any{"role": "model", "parts": []any{map[string]any{"text": text}}}},
			},
		})
	})

	logger := log.New(log.Writer(), "llm-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    addr,
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on " + addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func firstText(parts []part) string {
	if len(parts) == 0 {
		return ""
	}
	return parts[0].Text
}

func stageFor(system string) string {
	switch {
	case strings.HasPrefix(system, agent.ParserMarker):
		return "parser"
	case strings.HasPrefix(system, agent.ExtractorMarker):
		return "extractor"
	case strings.HasPrefix(system, agent.ClassifierMarker):
		return "classifier"
	default:
		return ""
	}
}

// parserReply treats every markdown heading below the title as a section.
func parserReply(numbered string) string {
	lines := strings.Split(strings.TrimRight(numbered, "\n"), "\n")
	var sections []section
	for _, line := range lines {
		m := headingRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		if len(sections) > 0 {
			sections[len(sections)-1].EndLine = n - 1
		}
		sections = append(sections, section{ID: len(sections) + 1, StartLine: n, EndLine: n, Title: strings.TrimSpace(m[2])})
	}
	if len(sections) > 0 {
		sections[len(sections)-1].EndLine = len(lines)
	}
	out, _ := json.Marshal(map[string]any{"sections": sections, "totalFindings": len(sections)})
	return "```json\n" + string(out) + "\n```"
}

func extractorReply(payload string) string {
	var in struct {
		Sections []struct {
			ID      json.RawMessage `json:"id"`
			Title   string          `json:"title"`
			Excerpt string          `json:"excerpt"`
		} `json:"sections"`
	}
	_ = json.Unmarshal([]byte(payload), &in)
	vulns := make([]map[string]any, 0, len(in.Sections))
	for _, s := range in.Sections {
		vulns = append(vulns, map[string]any{
			"sectionId":   s.ID,
			"title":       s.Title,
			"description": strings.TrimSpace(s.Excerpt),
		})
	}
	out, _ := json.Marshal(map[string]any{"vulnerabilities": vulns})
	return string(out)
}

// classifierReply grades by title prefix (C-, H-, M-, L-) and uses no tags.
func classifierReply(prompt string) string {
	body := prompt
	if i := strings.Index(body, "["); i >= 0 {
		body = body[i:]
	}
	if j := strings.Index(body, "\n## Allowed Tags"); j >= 0 {
		body = body[:j]
	}
	var findings []struct {
		SectionID json.RawMessage `json:"sectionId"`
		Title     string          `json:"title"`
	}
	_ = json.Unmarshal([]byte(strings.TrimSpace(body)), &findings)

	out := make([]map[string]any, 0, len(findings))
	for _, f := range findings {
		out = append(out, map[string]any{
			"sectionId": f.SectionID,
			"title":     f.Title,
			"severity":  severityFor(f.Title),
			"tags":      []string{},
			"category":  0,
		})
	}
	data, _ := json.Marshal(map[string]any{"vulnerabilities": out})
	return string(data)
}

func severityFor(title string) string {
	switch {
	case strings.HasPrefix(title, "C-"):
		return "critical"
	case strings.HasPrefix(title, "H-"):
		return "high"
	case strings.HasPrefix(title, "L-"):
		return "low"
	case strings.HasPrefix(title, "I-"), strings.HasPrefix(title, "G-"):
		return "note"
	default:
		return "medium"
	}
}

func enforcePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
