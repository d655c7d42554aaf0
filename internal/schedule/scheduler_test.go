package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcastell/convo/internal/config"
	"github.com/mcastell/convo/internal/llm"
)

type fakeLLM struct {
	response string
	err      error
	calls    int
	lastBody string
}

func (f *fakeLLM) Complete(_ context.Context, params llm.ChatParams) (string, error) {
	f.calls++
	if len(params.Messages) > 0 {
		f.lastBody = params.Messages[len(params.Messages)-1].Content
	}
	return f.response, f.err
}

type fakeCalendar struct {
	events  []Event
	listErr error
	calls   int
}

func (f *fakeCalendar) ListEvents(context.Context, string) ([]Event, error) {
	f.calls++
	return f.events, f.listErr
}

func (f *fakeCalendar) CreateEvent(context.Context, string, Event) (string, error) {
	return "new-id", nil
}

func (f *fakeCalendar) DeleteEvent(context.Context, string, string) error {
	return nil
}

func setCalendarConfig(t *testing.T, capacity int) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Features[config.FeatureCalendar] = config.FeatureConfig{
		Enabled:  capacity > 0,
		Capacity: capacity,
		Schedule: "Lunes a viernes de 9:00 a 18:00",
	}
	config.Set(cfg)
}

func at(hour, min int) time.Time {
	return time.Date(2026, 9, 2, hour, min, 0, 0, time.UTC)
}

func TestCountOverlapsHalfOpenBoundary(t *testing.T) {
	existing := []Event{{ID: "e1", Start: at(10, 0), End: at(10, 30)}}

	assert.Equal(t, 1, CountOverlaps(existing, at(10, 15), at(10, 45)), "strict overlap")
	assert.Equal(t, 0, CountOverlaps(existing, at(10, 30), at(11, 0)), "back-to-back is free")
	assert.Equal(t, 0, CountOverlaps(existing, at(9, 30), at(10, 0)), "ending at start is free")
}

func TestDecideNotConfiguredSkipsSnapshot(t *testing.T) {
	setCalendarConfig(t, 0)
	cal := &fakeCalendar{}
	ai := &fakeLLM{}
	s := New(ai, cal, time.UTC)

	d := s.Decide(context.Background(), "biz", "quiero una cita")

	assert.Equal(t, ActionNone, d.Action)
	assert.Equal(t, ReasonNotConfigured, d.Reason)
	assert.Zero(t, cal.calls, "snapshot must not be fetched when unconfigured")
	assert.Zero(t, ai.calls)
}

func TestDecideAddApprovedWhenNoConflicts(t *testing.T) {
	setCalendarConfig(t, 2)
	cal := &fakeCalendar{}
	ai := &fakeLLM{response: `{
		"funcion": "agregar",
		"resumen": "Cita con taller",
		"descripcion": "Revisión general",
		"fechaInicio": "2026-09-02T15:00:00-06:00",
		"fechaFin": "2026-09-02T15:30:00-06:00"
	}`}
	s := New(ai, cal, time.UTC)

	d := s.Decide(context.Background(), "biz", "quiero una cita mañana a las 3pm")

	require.Equal(t, ActionAdd, d.Action)
	assert.Equal(t, "Cita con taller", d.Summary)
	assert.Equal(t, 15, d.Start.Hour())
	assert.Contains(t, ai.lastBody, "quiero una cita mañana a las 3pm")
}

func TestDecideAddRejectedAtCapacity(t *testing.T) {
	setCalendarConfig(t, 1)
	base := time.Date(2026, 9, 2, 10, 0, 0, 0, time.FixedZone("MTY", -6*3600))
	cal := &fakeCalendar{events: []Event{
		{ID: "e1", Summary: "Ocupado", Start: base, End: base.Add(30 * time.Minute)},
	}}
	ai := &fakeLLM{response: `{
		"funcion": "agregar",
		"resumen": "Empalme",
		"fechaInicio": "2026-09-02T10:15:00-06:00",
		"fechaFin": "2026-09-02T10:45:00-06:00"
	}`}
	s := New(ai, cal, time.UTC)

	d := s.Decide(context.Background(), "biz", "cita a las 10:15")

	assert.Equal(t, ActionNone, d.Action)
	assert.Equal(t, ReasonCapacity, d.Reason)
	assert.Contains(t, d.Message, "1 citas")
	assert.Contains(t, d.Message, "máximo permitido es 1")
}

func TestDecideAddAcceptedAtHalfOpenBoundary(t *testing.T) {
	setCalendarConfig(t, 1)
	base := time.Date(2026, 9, 2, 10, 0, 0, 0, time.FixedZone("MTY", -6*3600))
	cal := &fakeCalendar{events: []Event{
		{ID: "e1", Start: base, End: base.Add(30 * time.Minute)},
	}}
	ai := &fakeLLM{response: `{
		"funcion": "agregar",
		"resumen": "Siguiente turno",
		"fechaInicio": "2026-09-02T10:30:00-06:00",
		"fechaFin": "2026-09-02T11:00:00-06:00"
	}`}
	s := New(ai, cal, time.UTC)

	d := s.Decide(context.Background(), "biz", "cita a las 10:30")

	assert.Equal(t, ActionAdd, d.Action)
}

func TestDecideCancelVerifiesEventID(t *testing.T) {
	setCalendarConfig(t, 2)
	cal := &fakeCalendar{events: []Event{{ID: "real-1", Summary: "Cita"}}}

	t.Run("known id", func(t *testing.T) {
		ai := &fakeLLM{response: `{"funcion": "eliminar", "eventId": "real-1"}`}
		d := New(ai, cal, time.UTC).Decide(context.Background(), "biz", "cancela mi cita")
		require.Equal(t, ActionCancel, d.Action)
		assert.Equal(t, "real-1", d.EventID)
	})

	t.Run("fabricated id", func(t *testing.T) {
		ai := &fakeLLM{response: `{"funcion": "eliminar", "eventId": "made-up"}`}
		d := New(ai, cal, time.UTC).Decide(context.Background(), "biz", "cancela mi cita")
		assert.Equal(t, ActionNone, d.Action)
		assert.Equal(t, ReasonNotFound, d.Reason)
	})
}

func TestDecideMalformedClassifierOutput(t *testing.T) {
	setCalendarConfig(t, 2)
	cal := &fakeCalendar{}

	for _, raw := range []string{"not json", "```json\n{broken\n```", ""} {
		ai := &fakeLLM{response: raw}
		d := New(ai, cal, time.UTC).Decide(context.Background(), "biz", "hola")
		assert.Equal(t, ActionNone, d.Action, "raw=%q", raw)
		assert.Equal(t, ReasonUnparseable, d.Reason, "raw=%q", raw)
	}
}

func TestDecideFencedClassifierOutputIsUnwrapped(t *testing.T) {
	setCalendarConfig(t, 2)
	cal := &fakeCalendar{}
	ai := &fakeLLM{response: "```json\n{\"funcion\": \"agregar\", \"resumen\": \"x\", \"fechaInicio\": \"2026-09-02T09:00:00-06:00\", \"fechaFin\": \"2026-09-02T09:30:00-06:00\"}\n```"}

	d := New(ai, cal, time.UTC).Decide(context.Background(), "biz", "cita")

	assert.Equal(t, ActionAdd, d.Action)
}

func TestDecideUnknownShapeDegrades(t *testing.T) {
	setCalendarConfig(t, 2)
	cal := &fakeCalendar{}
	ai := &fakeLLM{response: `{"funcion": "reprogramar"}`}

	d := New(ai, cal, time.UTC).Decide(context.Background(), "biz", "muévela")

	assert.Equal(t, ActionNone, d.Action)
	assert.Equal(t, ReasonUnparseable, d.Reason)
	assert.NotEmpty(t, d.Message)
}
