package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"psiagenda/internal/config"
	"psiagenda/internal/model"
)

func testAppointments() []model.Appointment {
	return []model.Appointment{
		{ID: "a1", SeriesID: "s1", PatientName: "Lucía", StartDate: "2024-03-05", StartTime: "10:00", IsRecurring: true, Frequency: model.Weekly, Notes: "ansiedad"},
		{ID: "a2", SeriesID: "s2", PatientName: "Juan", StartDate: "2024-03-06", StartTime: "16:30"},
	}
}

func TestSnapshot(t *testing.T) {
	rows := Snapshot(testAppointments())
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	want := Row{Patient: "Lucía", Date: "05/03/2024", Time: "10:00", Recurring: true, Notes: "ansiedad"}
	if rows[0] != want {
		t.Fatalf("row 0 = %+v, want %+v", rows[0], want)
	}
	if rows[1].Notes != "" || rows[1].Recurring {
		t.Fatalf("row 1 = %+v", rows[1])
	}
}

func TestSystemPrompt(t *testing.T) {
	prompt, err := SystemPrompt(Snapshot(testAppointments()), time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		`"paciente":"Lucía"`,
		`"fecha":"05/03/2024"`,
		`"notas":""`,
		"Hoy es: 04/03/2024",
		"MÁXIMO 2 oraciones",
		"DD/MM/YYYY",
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

type stubGenerator struct {
	text string
	err  error

	system string
	prompt string
	temp   float64
}

func (s *stubGenerator) Generate(_ context.Context, system, prompt string, temperature float64) (string, error) {
	s.system, s.prompt, s.temp = system, prompt, temperature
	return s.text, s.err
}

func TestAssistantFallbacks(t *testing.T) {
	ctx := context.Background()
	fixed := func() time.Time { return time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC) }

	noKey := NewAssistant(nil, AssistantOptions{KeyEnv: "MY_KEY", Now: fixed})
	if got := noKey.Answer(ctx, "¿quién viene?", nil); got != fmt.Sprintf(FallbackNoKey, "MY_KEY") {
		t.Fatalf("missing key answer = %q", got)
	}

	failing := NewAssistant(&stubGenerator{err: errors.New("boom")}, AssistantOptions{Now: fixed})
	if got := failing.Answer(ctx, "q", nil); got != FallbackFailure {
		t.Fatalf("failure answer = %q", got)
	}

	empty := NewAssistant(&stubGenerator{text: "  \n"}, AssistantOptions{Now: fixed})
	if got := empty.Answer(ctx, "q", nil); got != FallbackEmpty {
		t.Fatalf("empty answer = %q", got)
	}
}

func TestAssistantPassesPromptAndTemperature(t *testing.T) {
	gen := &stubGenerator{text: " El martes 05/03/2024 viene Lucía. "}
	a := NewAssistant(gen, AssistantOptions{
		Temperature: 0.1,
		Location:    time.UTC,
		Now:         func() time.Time { return time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC) },
	})

	got := a.Answer(context.Background(), "¿quién viene el martes?", testAppointments())
	if got != "El martes 05/03/2024 viene Lucía." {
		t.Fatalf("answer = %q", got)
	}
	if gen.prompt != "¿quién viene el martes?" || gen.temp != 0.1 {
		t.Fatalf("generator got prompt=%q temp=%v", gen.prompt, gen.temp)
	}
	if !strings.Contains(gen.system, "Hoy es: 04/03/2024") {
		t.Fatalf("system prompt missing today's date")
	}
}

func TestGeminiGenerate(t *testing.T) {
	var gotReq geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1beta/models/test-model:generateContent" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("x-goog-api-key") != "secret" {
			t.Errorf("missing api key header")
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"Hola, "},{"text":"Lucía."}]}}]}`))
	}))
	defer srv.Close()

	t.Setenv("PSIAGENDA_TEST_GEMINI_KEY", "secret")
	cfg := config.DefaultConfig()
	cfg.Query.Endpoint = srv.URL + "/v1beta/"
	cfg.Query.Model = "test-model"
	cfg.Query.APIKeyEnv = "PSIAGENDA_TEST_GEMINI_KEY"

	g := NewGemini(cfg)
	if g == nil {
		t.Fatalf("expected a client when the key is set")
	}
	text, err := g.Generate(context.Background(), "sys", "pregunta", 0.1)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "Hola, Lucía." {
		t.Fatalf("text = %q", text)
	}
	if gotReq.SystemInstruction.Parts[0].Text != "sys" || gotReq.Contents[0].Parts[0].Text != "pregunta" {
		t.Fatalf("request body = %+v", gotReq)
	}
	if gotReq.GenerationConfig.Temperature != 0.1 {
		t.Fatalf("temperature = %v", gotReq.GenerationConfig.Temperature)
	}
}

func TestGeminiServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	t.Setenv("PSIAGENDA_TEST_GEMINI_KEY", "secret")
	cfg := config.DefaultConfig()
	cfg.Query.Endpoint = srv.URL
	cfg.Query.APIKeyEnv = "PSIAGENDA_TEST_GEMINI_KEY"

	a := NewFromConfig(cfg, time.UTC)
	if got := a.Answer(context.Background(), "q", testAppointments()); got != FallbackFailure {
		t.Fatalf("answer = %q", got)
	}
}

func TestNewFromConfigWithoutKey(t *testing.T) {
	t.Setenv("PSIAGENDA_TEST_GEMINI_KEY", "")
	cfg := config.DefaultConfig()
	cfg.Query.APIKeyEnv = "PSIAGENDA_TEST_GEMINI_KEY"

	if NewGemini(cfg) != nil {
		t.Fatalf("expected nil client without a key")
	}
	a := NewFromConfig(cfg, time.UTC)
	if got := a.Answer(context.Background(), "q", nil); got != fmt.Sprintf(FallbackNoKey, "PSIAGENDA_TEST_GEMINI_KEY") {
		t.Fatalf("answer = %q", got)
	}
}
