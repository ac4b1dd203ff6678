// Package recommend talks to the recommendation generator. Prompting and
// model choice live on the other side of Generator.
package recommend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"lms/auth-identity/internal/apperr"
)

// SubjectScore summarizes a student's quiz results in one subject.
type SubjectScore struct {
	Subject    string  `json:"subject"`
	Score      int     `json:"score"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
	Quizzes    int     `json:"quizzes"`
}

type Request struct {
	StudentID string         `json:"student_id"`
	Results   []SubjectScore `json:"quiz_results"`
}

// Generator turns quiz results into a recommendation document.
type Generator interface {
	Generate(ctx context.Context, req Request) (json.RawMessage, error)
}

// HTTPGenerator posts the request to an external generator service.
type HTTPGenerator struct {
	URL    string
	Client *http.Client
}

func NewHTTPGenerator(url string, timeout time.Duration) *HTTPGenerator {
	return &HTTPGenerator{URL: url, Client: &http.Client{Timeout: timeout}}
}

func (g *HTTPGenerator) Generate(ctx context.Context, req Request) (json.RawMessage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.Client.Do(httpReq)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeUnavailable, "call recommendation generator", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeUnavailable, "read recommendation", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.Wrap(apperr.CodeUnavailable, "recommendation generator failed",
			fmt.Errorf("status %d", resp.StatusCode))
	}
	if !json.Valid(raw) {
		return nil, apperr.Wrap(apperr.CodeUnavailable, "recommendation generator returned invalid json", nil)
	}
	return json.RawMessage(raw), nil
}

// RuleGenerator is the fallback used without an external generator: it
// points at the weakest subjects.
type RuleGenerator struct {
	// Threshold is the percentage under which a subject needs work.
	Threshold float64
}

type ruleRecommendation struct {
	Summary    string   `json:"summary"`
	FocusAreas []string `json:"focus_areas"`
	Strengths  []string `json:"strengths"`
}

func (g RuleGenerator) Generate(_ context.Context, req Request) (json.RawMessage, error) {
	threshold := g.Threshold
	if threshold <= 0 {
		threshold = 60
	}
	results := append([]SubjectScore(nil), req.Results...)
	sort.Slice(results, func(i, j int) bool { return results[i].Percentage < results[j].Percentage })

	rec := ruleRecommendation{FocusAreas: []string{}, Strengths: []string{}}
	for _, r := range results {
		if r.Percentage < threshold {
			rec.FocusAreas = append(rec.FocusAreas, r.Subject)
		} else {
			rec.Strengths = append(rec.Strengths, r.Subject)
		}
	}
	switch {
	case len(results) == 0:
		rec.Summary = "No quiz data yet."
	case len(rec.FocusAreas) == 0:
		rec.Summary = "Results are solid across every subject."
	default:
		rec.Summary = fmt.Sprintf("Review %s first.", rec.FocusAreas[0])
	}
	return json.Marshal(rec)
}
