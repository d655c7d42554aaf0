// Package schedule decides appointment actions. It interprets a scheduling
// intent against a point-in-time snapshot of the business calendar and either
// approves an add, approves a verified cancellation, or declines with a reason.
// Executing approved actions against the calendar is the caller's job, which
// keeps the conflict logic testable without network calls.
package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mcastell/convo/internal/config"
	"github.com/mcastell/convo/internal/llm"
	"github.com/mcastell/convo/internal/timefmt"
)

// Event is one calendar booking over the half-open interval [Start, End).
type Event struct {
	ID          string
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
}

// Calendar is the external calendar collaborator.
type Calendar interface {
	ListEvents(ctx context.Context, businessID string) ([]Event, error)
	CreateEvent(ctx context.Context, businessID string, ev Event) (string, error)
	DeleteEvent(ctx context.Context, businessID, eventID string) error
}

// Action is the decided appointment operation.
type Action string

const (
	ActionAdd    Action = "add"
	ActionCancel Action = "cancel"
	ActionNone   Action = "none"
)

// Decline reasons for ActionNone.
const (
	ReasonNotConfigured = "not configured"
	ReasonUnparseable   = "could not interpret"
	ReasonNotFound      = "not found"
	ReasonCapacity      = "capacity"
)

// Decision is the scheduler's verdict. Exactly the fields for the decided
// action are populated; Message is a customer-facing Spanish reply for
// ActionNone.
type Decision struct {
	Action      Action
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	EventID     string
	Reason      string
	Message     string
}

// Scheduler interprets scheduling intents. It is stateless; every decision
// re-reads the calendar snapshot.
type Scheduler struct {
	LLM      llm.Client
	Calendar Calendar
	Zone     *time.Location
	Now      func() time.Time // defaults to time.Now
}

func New(client llm.Client, calendar Calendar, zone *time.Location) *Scheduler {
	return &Scheduler{LLM: client, Calendar: calendar, Zone: zone, Now: time.Now}
}

// classifier wire contract
type calendarIntent struct {
	Funcion     string `json:"funcion"`
	Resumen     string `json:"resumen"`
	Descripcion string `json:"descripcion"`
	FechaInicio string `json:"fechaInicio"`
	FechaFin    string `json:"fechaFin"`
	EventID     string `json:"eventId"`
	Mensaje     string `json:"mensaje"`
}

// Decide interprets the transcript and returns the appointment decision.
func (s *Scheduler) Decide(ctx context.Context, businessID, transcript string) Decision {
	cfg := config.Get()
	feature := cfg.Feature(config.FeatureCalendar)
	if !feature.Enabled || feature.Capacity <= 0 {
		return none(ReasonNotConfigured, "No está configurada la función de calendario.")
	}

	events, err := s.Calendar.ListEvents(ctx, businessID)
	if err != nil {
		slog.Warn("calendar snapshot failed", "business", businessID, "error", err)
		return none(ReasonUnparseable, "No pude consultar la agenda en este momento.")
	}

	raw, err := s.LLM.Complete(ctx, llm.ChatParams{
		Model:       cfg.Classifier.Model,
		APIKey:      cfg.Classifier.APIKey,
		BaseURL:     cfg.Classifier.BaseURL,
		Messages:    []llm.Message{llm.UserMessage(s.buildPrompt(feature, events, transcript))},
		Temperature: 0.3,
	})
	if err != nil {
		slog.Warn("calendar classifier call failed", "error", err)
		return none(ReasonUnparseable, "No se pudo interpretar el mensaje.")
	}

	var intent calendarIntent
	if err := json.Unmarshal([]byte(llm.UnwrapFence(raw)), &intent); err != nil {
		slog.Warn("calendar classifier returned invalid JSON", "raw", raw)
		return none(ReasonUnparseable, "No se pudo interpretar el mensaje.")
	}

	switch intent.Funcion {
	case "eliminar":
		return s.decideCancel(intent, events)
	case "agregar":
		return s.decideAdd(intent, events, feature.Capacity)
	default:
		msg := intent.Mensaje
		if msg == "" {
			msg = "No logré entender si deseas agendar o cancelar una cita."
		}
		return none(ReasonUnparseable, msg)
	}
}

// decideCancel approves a cancellation only when the extracted event ID exists
// in the snapshot. A delete is never attempted against an unverified ID.
func (s *Scheduler) decideCancel(intent calendarIntent, events []Event) Decision {
	for _, ev := range events {
		if ev.ID != "" && ev.ID == intent.EventID {
			return Decision{Action: ActionCancel, EventID: ev.ID}
		}
	}
	return none(ReasonNotFound, "No se encontró la cita que deseas cancelar.")
}

func (s *Scheduler) decideAdd(intent calendarIntent, events []Event, capacity int) Decision {
	start, err := time.Parse(time.RFC3339, intent.FechaInicio)
	if err != nil {
		return none(ReasonUnparseable, "No se pudo interpretar la fecha de la cita.")
	}
	end, err := time.Parse(time.RFC3339, intent.FechaFin)
	if err != nil {
		return none(ReasonUnparseable, "No se pudo interpretar la fecha de la cita.")
	}

	conflicts := CountOverlaps(events, start, end)
	if conflicts >= capacity {
		return none(ReasonCapacity, fmt.Sprintf(
			"Ya hay %d citas en ese horario. El máximo permitido es %d.", conflicts, capacity))
	}

	return Decision{
		Action:      ActionAdd,
		Summary:     intent.Resumen,
		Description: intent.Descripcion,
		Start:       start,
		End:         end,
	}
}

// CountOverlaps counts events whose half-open interval [Start, End) strictly
// overlaps [start, end). Back-to-back bookings do not overlap.
func CountOverlaps(events []Event, start, end time.Time) int {
	n := 0
	for _, ev := range events {
		if ev.Start.Before(end) && ev.End.After(start) {
			n++
		}
	}
	return n
}

func (s *Scheduler) buildPrompt(feature config.FeatureConfig, events []Event, transcript string) string {
	now := s.Now()
	if s.Zone != nil {
		now = now.In(s.Zone)
	}

	var lines []string
	for _, ev := range events {
		start := ev.Start
		if s.Zone != nil {
			start = start.In(s.Zone)
		}
		lines = append(lines, fmt.Sprintf("- ID: %s, Resumen: %s, Fecha: %s",
			ev.ID, ev.Summary, timefmt.Event(start)))
	}

	return fmt.Sprintf(`Eres un asistente para gestionar citas. Tu tarea es interpretar si el usuario quiere AGENDAR o CANCELAR una cita.

Hora actual: %s
Horario del negocio: %s

Si el usuario quiere agendar una cita (sinónimos: agendar, registrar, programar, hacer), responde así:
{
  "funcion": "agregar",
  "resumen": "...",
  "descripcion": "...",
  "fechaInicio": "YYYY-MM-DDTHH:mm:ss-06:00",
  "fechaFin": "YYYY-MM-DDTHH:mm:ss-06:00"
}

Si el mensaje es para CANCELAR una cita y contiene la información mínima (fecha y descripción), responde así:
{
  "funcion": "eliminar",
  "eventId": "abc123"
}

Si no hay coincidencia clara, responde con:
{
  "funcion": "ninguna",
  "mensaje": "No se encontró la cita que deseas cancelar."
}

Eventos disponibles:
%s

Texto del usuario:
"""%s"""`,
		timefmt.Long(now), feature.Schedule, strings.Join(lines, "\n"), transcript)
}

func none(reason, message string) Decision {
	return Decision{Action: ActionNone, Reason: reason, Message: message}
}
