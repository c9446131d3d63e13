// Package query answers natural-language questions about the agenda by
// handing a compact snapshot of the appointments to a language model.
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	appLog "psiagenda/internal/log"
	"psiagenda/internal/model"
)

// Texts returned instead of a model answer.
const (
	FallbackNoKey = "Lo siento, la clave de la API de Gemini no está configurada. " +
		"Contacta al administrador para que la establezca en la variable %s."
	FallbackFailure = "Lo siento, hubo un problema al consultar la inteligencia artificial. " +
		"Por favor intenta más tarde."
	FallbackEmpty = "No pude procesar la respuesta."
)

const aiDateLayout = "02/01/2006"

var tracer = otel.Tracer("psiagenda/internal/query")

// Answerer turns a question plus the current appointments into text. It
// never fails; problems are reported as a readable answer.
type Answerer interface {
	Answer(ctx context.Context, question string, appts []model.Appointment) string
}

// Generator produces a completion for a system instruction and a user
// prompt.
type Generator interface {
	Generate(ctx context.Context, system, prompt string, temperature float64) (string, error)
}

// Row is one appointment as shown to the model. Field names are the ones
// the prompt is written around.
type Row struct {
	Patient   string `json:"paciente"`
	Date      string `json:"fecha"`
	Time      string `json:"hora"`
	Recurring bool   `json:"recurrente"`
	Notes     string `json:"notas"`
}

// Snapshot converts appointments into prompt rows with DD/MM/YYYY dates.
func Snapshot(appts []model.Appointment) []Row {
	rows := make([]Row, 0, len(appts))
	for _, a := range appts {
		rows = append(rows, Row{
			Patient:   a.PatientName,
			Date:      aiDate(a.StartDate),
			Time:      a.StartTime,
			Recurring: a.IsRecurring,
			Notes:     a.Notes,
		})
	}
	return rows
}

// aiDate rewrites YYYY-MM-DD as DD/MM/YYYY. Anything else is passed through.
func aiDate(iso string) string {
	t, err := time.Parse(model.DateLayout, iso)
	if err != nil {
		return iso
	}
	return t.Format(aiDateLayout)
}

// SystemPrompt builds the instruction that carries the agenda data.
func SystemPrompt(rows []Row, today time.Time) (string, error) {
	data, err := json.Marshal(rows)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Eres un asistente de agenda para psicólogos. Tienes estos datos de turnos: %s\n", data)
	fmt.Fprintf(&b, "Hoy es: %s\n", today.Format(aiDateLayout))
	b.WriteString("Instrucciones CRÍTICAS:\n")
	b.WriteString("1. Responde en MÁXIMO 2 oraciones.\n")
	b.WriteString("2. Sé extremadamente directo y breve.\n")
	b.WriteString("3. No uses saludos largos ni despedidas.\n")
	b.WriteString("4. Si es una lista, usa formato simple.\n")
	b.WriteString("5. Las fechas están en formato DD/MM/YYYY.\n")
	return b.String(), nil
}

// Assistant is the Answerer backed by a Generator.
type Assistant struct {
	gen         Generator
	keyEnv      string
	temperature float64
	loc         *time.Location
	now         func() time.Time
}

// AssistantOptions configures NewAssistant.
type AssistantOptions struct {
	// KeyEnv is the environment variable named in the missing-key answer.
	KeyEnv      string
	Temperature float64
	Location    *time.Location
	Now         func() time.Time
}

// NewAssistant returns an Assistant. A nil gen means no API key is
// configured; every answer is then the missing-key text.
func NewAssistant(gen Generator, opts AssistantOptions) *Assistant {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.KeyEnv == "" {
		opts.KeyEnv = "GEMINI_API_KEY"
	}
	return &Assistant{
		gen:         gen,
		keyEnv:      opts.KeyEnv,
		temperature: opts.Temperature,
		loc:         opts.Location,
		now:         opts.Now,
	}
}

func (a *Assistant) Answer(ctx context.Context, question string, appts []model.Appointment) string {
	ctx, span := tracer.Start(ctx, "query.Answer",
		trace.WithAttributes(attribute.Int("appointments", len(appts))),
	)
	defer span.End()

	if a.gen == nil {
		appLog.Warn("query: API key not configured", "env", a.keyEnv)
		return fmt.Sprintf(FallbackNoKey, a.keyEnv)
	}

	system, err := SystemPrompt(Snapshot(appts), a.now().In(a.loc))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "prompt")
		appLog.Error("query: build prompt failed", err)
		return FallbackFailure
	}

	text, err := a.gen.Generate(ctx, system, question, a.temperature)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate")
		appLog.Error("query: model call failed", err)
		return FallbackFailure
	}
	text = strings.TrimSpace(text)
	if text == "" {
		appLog.Warn("query: empty model answer")
		return FallbackEmpty
	}
	return text
}
