// Package engine is the message pipeline: dedup, persistence, turn coalescing,
// activation gating, routing, and reply execution.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mcastell/convo/internal/coalesce"
	"github.com/mcastell/convo/internal/config"
	"github.com/mcastell/convo/internal/export"
	"github.com/mcastell/convo/internal/flow"
	"github.com/mcastell/convo/internal/intent"
	"github.com/mcastell/convo/internal/schedule"
	"github.com/mcastell/convo/internal/store"
	"github.com/mcastell/convo/internal/timefmt"
)

// Inbound is one raw message delivered by the channel bridge.
type Inbound struct {
	MessageID string    `json:"messageId"`
	From      string    `json:"from"` // customer phone, the conversation key
	Name      string    `json:"name"` // push name reported by the channel
	Text      string    `json:"text"`
	FromSelf  bool      `json:"fromSelf"` // typed by the business itself
	At        time.Time `json:"at,omitempty"`
}

// Conversations is the persistence the engine needs per turn.
type Conversations interface {
	ActivationStore
	EnsureUser(ctx context.Context, phone, name string) error
	AppendMessage(ctx context.Context, phone string, entry store.HistoryEntry) error
	Recent(ctx context.Context, phone string, n int) ([]store.HistoryEntry, error)
	Messages(ctx context.Context, phone string) ([]store.HistoryEntry, error)
}

// Router resolves a transcript to a routing verdict.
type Router interface {
	Resolve(ctx context.Context, transcript string) intent.Result
}

// Machine executes routing verdicts as outbound replies.
type Machine interface {
	SelectFlow(ctx context.Context, senderKey, name, override string) (flow.State, error)
	ExecuteSelected(ctx context.Context, senderKey string) (flow.State, error)
	DirectReply(ctx context.Context, senderKey, text string) (flow.State, error)
	Fallback(ctx context.Context, senderKey string) (flow.State, error)
}

// Appointments decides scheduling actions over a calendar snapshot.
type Appointments interface {
	Decide(ctx context.Context, businessID, transcript string) schedule.Decision
}

// ContactSync keeps the external directory in step with inbound customers.
type ContactSync interface {
	EnsureKnown(ctx context.Context, businessID, name, number string)
	Warm(ctx context.Context, businessID string)
}

// Engine wires the pipeline stages together. One Engine serves one business
// account.
type Engine struct {
	conversations Conversations
	gate          *Gate
	router        Router
	machine       Machine
	appointments  Appointments
	calendar      schedule.Calendar
	contactSync   ContactSync
	transport     flow.Transport
	zone          *time.Location
	exportDir     string

	dedup     *coalesce.Dedup
	coalescer *coalesce.Coalescer

	mu    sync.Mutex
	locks map[string]*sync.Mutex // senderKey → serializes turn processing
	names sync.Map               // senderKey → last seen push name
}

// Options carries the engine's collaborators.
type Options struct {
	Conversations Conversations
	Router        Router
	Machine       Machine
	Appointments  Appointments
	Calendar      schedule.Calendar
	ContactSync   ContactSync
	Transport     flow.Transport
	Zone          *time.Location
	ExportDir     string
	QuietPeriod   time.Duration
	DedupTTL      time.Duration
}

func New(opts Options) *Engine {
	e := &Engine{
		conversations: opts.Conversations,
		gate:          NewGate(opts.Conversations),
		router:        opts.Router,
		machine:       opts.Machine,
		appointments:  opts.Appointments,
		calendar:      opts.Calendar,
		contactSync:   opts.ContactSync,
		transport:     opts.Transport,
		zone:          opts.Zone,
		exportDir:     opts.ExportDir,
		dedup:         coalesce.NewDedup(opts.DedupTTL),
		locks:         make(map[string]*sync.Mutex),
	}
	e.coalescer = coalesce.New(opts.QuietPeriod, e.process)
	return e
}

func (e *Engine) Close() {
	e.dedup.Close()
}

// PendingTurns reports the number of senders inside an open quiet window.
func (e *Engine) PendingTurns() int {
	return e.coalescer.PendingCount()
}

// HandleInbound runs the synchronous half of the pipeline: dedup, history
// persistence, and command dispatch. Regular customer text is handed to the
// coalescer and answered later, when the quiet window closes.
func (e *Engine) HandleInbound(ctx context.Context, msg Inbound) error {
	if e.dedup.Seen(msg.MessageID) {
		slog.Debug("duplicate message dropped", "messageId", msg.MessageID)
		return nil
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return nil
	}
	if msg.Name != "" {
		e.names.Store(msg.From, msg.Name)
	}

	if err := e.persistInbound(ctx, msg, text); err != nil {
		return err
	}

	// Slash commands are a side channel: immediate, never coalesced.
	if strings.HasPrefix(text, "/") {
		e.handleCommand(ctx, msg.From, text)
		return nil
	}

	// The business's own messages are recorded for context but never answered.
	if msg.FromSelf {
		return nil
	}

	e.coalescer.Submit(msg.From, text)
	return nil
}

func (e *Engine) persistInbound(ctx context.Context, msg Inbound, text string) error {
	cfg := config.Get()
	if !cfg.Feature(config.FeaturePersistence).Enabled {
		return nil
	}
	if err := e.conversations.EnsureUser(ctx, msg.From, msg.Name); err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}
	sender := store.SenderCustomer
	if msg.FromSelf {
		sender = store.SenderOperator
	}
	entry := store.HistoryEntry{Sender: sender, Message: text, MessageID: msg.MessageID, At: msg.At}
	if err := e.conversations.AppendMessage(ctx, msg.From, entry); err != nil {
		return fmt.Errorf("persist inbound: %w", err)
	}
	return nil
}

// process answers one coalesced turn. It runs on the coalescer's timer
// goroutine, serialized per sender.
func (e *Engine) process(turn coalesce.Turn) {
	lock := e.senderLock(turn.SenderKey)
	lock.Lock()
	defer lock.Unlock()

	cfg := config.Get()
	ctx, cancel := context.WithTimeout(context.Background(), e.classifierTimeout(cfg))
	defer cancel()

	chatbot := cfg.Feature(config.FeatureChatbot)
	if !chatbot.Enabled {
		return
	}
	if !e.withinHours(chatbot.Hours) {
		slog.Debug("outside active hours, staying quiet", "sender", turn.SenderKey)
		return
	}
	if !e.gate.Allows(ctx, turn.SenderKey) {
		slog.Debug("conversation inactive, staying quiet", "sender", turn.SenderKey)
		return
	}

	if cfg.Feature(config.FeatureContacts).Enabled {
		name, _ := e.names.Load(turn.SenderKey)
		nameStr, _ := name.(string)
		go e.contactSync.EnsureKnown(context.Background(), cfg.Business.ID, nameStr, turn.SenderKey)
	}

	transcript := e.buildTranscript(ctx, cfg, turn)

	res := e.router.Resolve(ctx, transcript)
	switch {
	case res.Kind == intent.KindFlow && res.Flow == flow.AppointmentFlow:
		e.runAppointment(ctx, cfg.Business.ID, turn.SenderKey, transcript)
	case res.Kind == intent.KindFlow:
		state, err := e.machine.SelectFlow(ctx, turn.SenderKey, res.Flow, res.Reply)
		if err != nil {
			slog.Error("flow selection failed", "turn", turn.ID, "flow", res.Flow, "error", err)
			return
		}
		if state == flow.StateFlowSelected {
			if _, err := e.machine.ExecuteSelected(ctx, turn.SenderKey); err != nil {
				slog.Error("flow execution failed", "turn", turn.ID, "flow", res.Flow, "error", err)
			}
		}
	case res.Kind == intent.KindReply:
		if _, err := e.machine.DirectReply(ctx, turn.SenderKey, res.Reply); err != nil {
			slog.Error("direct reply failed", "turn", turn.ID, "error", err)
		}
	default:
		if _, err := e.machine.Fallback(ctx, turn.SenderKey); err != nil {
			slog.Error("fallback reply failed", "turn", turn.ID, "error", err)
		}
	}
}

// buildTranscript prefixes the current turn with recent labeled history when
// the history feature is on.
func (e *Engine) buildTranscript(ctx context.Context, cfg *config.Config, turn coalesce.Turn) string {
	history := cfg.Feature(config.FeatureHistory)
	if !history.Enabled || history.Depth <= 0 {
		return turn.Text
	}

	recent, err := e.conversations.Recent(ctx, turn.SenderKey, history.Depth)
	if err != nil {
		slog.Warn("history read failed, routing without context", "sender", turn.SenderKey, "error", err)
		return turn.Text
	}

	var b strings.Builder
	for _, entry := range recent {
		label := "Cliente"
		if entry.Sender == store.SenderBot {
			label = "Bot"
		}
		fmt.Fprintf(&b, "%s: %s\n", label, entry.Message)
	}
	fmt.Fprintf(&b, "Cliente: %s", turn.Text)
	return b.String()
}

// runAppointment executes the scheduling decision: the scheduler judges, the
// engine performs the approved calendar call and reports back to the customer.
func (e *Engine) runAppointment(ctx context.Context, businessID, senderKey, transcript string) {
	d := e.appointments.Decide(ctx, businessID, transcript)
	switch d.Action {
	case schedule.ActionAdd:
		ev := schedule.Event{
			Summary:     d.Summary,
			Description: d.Description + "\nNúmero: " + senderKey,
			Start:       d.Start,
			End:         d.End,
		}
		if _, err := e.calendar.CreateEvent(ctx, businessID, ev); err != nil {
			slog.Error("calendar create failed", "business", businessID, "error", err)
			e.say(ctx, senderKey, "No se pudo agendar la cita. Intenta de nuevo más tarde.")
			return
		}
		start := d.Start
		if e.zone != nil {
			start = start.In(e.zone)
		}
		e.say(ctx, senderKey, fmt.Sprintf("✅ Cita agendada para *%s* el día *%s*.", d.Summary, timefmt.Short(start)))
	case schedule.ActionCancel:
		if err := e.calendar.DeleteEvent(ctx, businessID, d.EventID); err != nil {
			slog.Error("calendar delete failed", "business", businessID, "eventId", d.EventID, "error", err)
			e.say(ctx, senderKey, "No se pudo cancelar la cita. Intenta de nuevo más tarde.")
			return
		}
		e.say(ctx, senderKey, "✅ Tu cita ha sido cancelada exitosamente.")
	default:
		e.say(ctx, senderKey, d.Message)
	}
}

// handleCommand dispatches the slash side channel. Commands work even when the
// conversation is gated off, so the business can always pull an export.
func (e *Engine) handleCommand(ctx context.Context, senderKey, text string) {
	cmd, rest, _ := strings.Cut(text, " ")
	switch cmd {
	case "/chat":
		e.exportChat(ctx, senderKey, chatTarget(rest, senderKey))
	case "/cita":
		cfg := config.Get()
		e.runAppointment(ctx, cfg.Business.ID, senderKey, strings.TrimSpace(rest))
	default:
		slog.Debug("unknown command ignored", "command", cmd)
	}
}

// chatTarget picks the conversation to export: the digits of the command
// argument, or the caller's own conversation when none is given.
func chatTarget(arg, fallback string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, arg)
	if digits == "" {
		return fallback
	}
	return digits
}

// exportChat writes the target conversation's history to a CSV file and sends
// it back to the requester as a document.
func (e *Engine) exportChat(ctx context.Context, requester, target string) {
	entries, err := e.conversations.Messages(ctx, target)
	if err != nil {
		slog.Error("history export read failed", "target", target, "error", err)
		return
	}

	path := filepath.Join(e.exportDir, export.FileName(target, time.Now()))
	f, err := os.Create(path)
	if err != nil {
		slog.Error("history export create failed", "path", path, "error", err)
		return
	}
	writeErr := export.WriteCSV(f, entries, e.zone)
	closeErr := f.Close()
	if writeErr != nil || closeErr != nil {
		slog.Error("history export write failed", "path", path, "writeError", writeErr, "closeError", closeErr)
		return
	}

	if err := e.transport.SendDocument(ctx, requester, path, "Aquí tienes el historial del chat."); err != nil {
		slog.Error("history export send failed", "requester", requester, "target", target, "error", err)
	}
}

func (e *Engine) say(ctx context.Context, senderKey, text string) {
	if text == "" {
		return
	}
	if _, err := e.machine.DirectReply(ctx, senderKey, text); err != nil {
		slog.Error("reply failed", "sender", senderKey, "error", err)
	}
}

// withinHours reports whether local time falls inside the configured daily
// window. No window means always on; an unparseable window fails open so a
// config typo does not silence the bot.
func (e *Engine) withinHours(hours *config.HoursConfig) bool {
	if hours == nil || hours.Start == "" || hours.End == "" {
		return true
	}
	now := time.Now()
	if e.zone != nil {
		now = now.In(e.zone)
	}
	start, err1 := time.Parse("15:04", hours.Start)
	end, err2 := time.Parse("15:04", hours.End)
	if err1 != nil || err2 != nil {
		slog.Warn("invalid active hours, treating as always on", "start", hours.Start, "end", hours.End)
		return true
	}
	minutes := now.Hour()*60 + now.Minute()
	from := start.Hour()*60 + start.Minute()
	to := end.Hour()*60 + end.Minute()
	if from <= to {
		return minutes >= from && minutes < to
	}
	// Window crosses midnight.
	return minutes >= from || minutes < to
}

func (e *Engine) classifierTimeout(cfg *config.Config) time.Duration {
	secs := cfg.Classifier.TimeoutSeconds
	if secs <= 0 {
		secs = 30
	}
	return time.Duration(secs) * time.Second
}

func (e *Engine) senderLock(senderKey string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	if m, ok := e.locks[senderKey]; ok {
		return m
	}
	m := &sync.Mutex{}
	e.locks[senderKey] = m
	return m
}
