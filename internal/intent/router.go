// Package intent asks the classifier where a customer turn should go: a named
// flow, a direct conversational reply, or nowhere.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mcastell/convo/internal/config"
	"github.com/mcastell/convo/internal/flow"
	"github.com/mcastell/convo/internal/llm"
	"github.com/mcastell/convo/internal/timefmt"
)

// Kind discriminates the routing result. Exactly one variant is populated.
type Kind int

const (
	KindNone Kind = iota
	KindFlow
	KindReply
)

// Result is the normalized classifier verdict.
type Result struct {
	Kind  Kind
	Flow  string // KindFlow: destination flow name
	Reply string // KindReply: direct reply; KindFlow: AI-authored override text
}

// Catalog lists the flows currently eligible for routing.
type Catalog interface {
	EnabledFlows(ctx context.Context) ([]flow.Summary, error)
}

// Router resolves a conversation transcript to a Result.
type Router struct {
	LLM     llm.Client
	Catalog Catalog
	Zone    *time.Location
	Now     func() time.Time
}

func NewRouter(client llm.Client, catalog Catalog, zone *time.Location) *Router {
	return &Router{LLM: client, Catalog: catalog, Zone: zone, Now: time.Now}
}

// classifier wire contract
type routeResponse struct {
	FlujoDestino string `json:"flujo_destino"`
	Respuesta    string `json:"respuesta"`
}

const fallbackReply = "Lo siento, no entendí tu mensaje. ¿Podrías reformularlo?"

// Resolve classifies the transcript. Classifier failures are soft: the caller
// always gets a usable Result, never an error to propagate to the customer.
func (r *Router) Resolve(ctx context.Context, transcript string) Result {
	catalog, err := r.Catalog.EnabledFlows(ctx)
	if err != nil {
		slog.Warn("flow catalog unavailable", "error", err)
		return Result{Kind: KindReply, Reply: fallbackReply}
	}

	cfg := config.Get()
	raw, err := r.LLM.Complete(ctx, llm.ChatParams{
		Model:   cfg.Classifier.Model,
		APIKey:  cfg.Classifier.APIKey,
		BaseURL: cfg.Classifier.BaseURL,
		Messages: []llm.Message{
			llm.SystemMessage(r.buildSystemPrompt(catalog)),
			llm.UserMessage("Mensaje del cliente: " + transcript),
		},
	})
	if err != nil {
		slog.Warn("route classifier call failed", "error", err)
		return Result{Kind: KindReply, Reply: fallbackReply}
	}

	var parsed routeResponse
	if err := json.Unmarshal([]byte(llm.UnwrapFence(raw)), &parsed); err != nil {
		slog.Warn("route classifier returned invalid JSON", "raw", raw)
		return Result{Kind: KindReply, Reply: fallbackReply}
	}

	dest := strings.TrimSpace(parsed.FlujoDestino)
	switch {
	case dest != "":
		// The reserved scheduling token routes without a catalog lookup.
		return Result{Kind: KindFlow, Flow: dest, Reply: strings.TrimSpace(parsed.Respuesta)}
	case strings.TrimSpace(parsed.Respuesta) != "":
		return Result{Kind: KindReply, Reply: strings.TrimSpace(parsed.Respuesta)}
	default:
		return Result{Kind: KindNone}
	}
}

func (r *Router) buildSystemPrompt(catalog []flow.Summary) string {
	now := r.Now()
	if r.Zone != nil {
		now = now.In(r.Zone)
	}

	var lines []string
	for _, f := range catalog {
		lines = append(lines, fmt.Sprintf("- %s: %s", f.Name, f.Prompt))
	}

	return fmt.Sprintf(`Eres un asistente para WhatsApp.

Tu tarea es:
1. Analizar el mensaje del cliente.
2. Elegir cuál de los siguientes flujos es más adecuado con base en el contexto y la descripción del flujo.
3. Generar una respuesta breve, clara y útil.

Instrucciones clave:
- Solo responde lo necesario. No incluyas saludos, despedidas ni frases como "Estoy aquí para ayudarte".
- La respuesta debe tener máximo 2 oraciones o 250 caracteres.
- Si incluyes horarios, escríbelos en un solo bloque claro.
- No uses listas, saltos de línea ni viñetas. El mensaje debe ser una sola unidad continua de texto.
- No seas repetitivo, si tienes que decir algo varias veces, intenta reformularlo.

Devuelve un JSON con este formato:
{
  "flujo_destino": "nombre_del_flujo" o vacío "",
  "respuesta": "respuesta breve y útil para el cliente"
}

Hora actual: %s

Flujos disponibles:
%s`, timefmt.Long(now), strings.Join(lines, "\n"))
}
