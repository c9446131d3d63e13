package query

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"psiagenda/internal/config"
)

// Gemini calls the generateContent REST method of the Gemini API.
type Gemini struct {
	endpoint string
	model    string
	apiKey   string
	http     *http.Client
}

// NewGemini builds a client from cfg. It returns nil when no API key is
// set, which NewAssistant treats as "not configured".
func NewGemini(cfg *config.Config) *Gemini {
	key := cfg.QueryAPIKey()
	if key == "" {
		return nil
	}
	timeout := time.Duration(cfg.Query.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Gemini{
		endpoint: strings.TrimRight(strings.TrimSpace(cfg.Query.Endpoint), "/"),
		model:    cfg.Query.Model,
		apiKey:   key,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// NewFromConfig wires an Assistant to Gemini using cfg.
func NewFromConfig(cfg *config.Config, loc *time.Location) *Assistant {
	var gen Generator
	if g := NewGemini(cfg); g != nil {
		gen = g
	}
	return NewAssistant(gen, AssistantOptions{
		KeyEnv:      cfg.Query.APIKeyEnv,
		Temperature: cfg.Query.TemperatureValue(),
		Location:    loc,
	})
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction geminiContent   `json:"systemInstruction"`
	Contents          []geminiContent `json:"contents"`
	GenerationConfig  struct {
		Temperature float64 `json:"temperature"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func (g *Gemini) Generate(ctx context.Context, system, prompt string, temperature float64) (string, error) {
	body := geminiRequest{
		SystemInstruction: geminiContent{Parts: []geminiPart{{Text: system}}},
		Contents:          []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}},
	}
	body.GenerationConfig.Temperature = temperature
	raw, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	u := fmt.Sprintf("%s/models/%s:generateContent", g.endpoint, url.PathEscape(g.model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("gemini returned %s", resp.Status)
	}

	var out geminiResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("decode gemini response: %w", err)
	}
	if len(out.Candidates) == 0 {
		return "", nil
	}
	var b strings.Builder
	for _, p := range out.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String(), nil
}
