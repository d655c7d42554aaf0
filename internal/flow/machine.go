package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// State of one conversation turn inside the machine.
type State int

const (
	StateRouting State = iota
	StateFlowSelected
	StateExecuting
	StateDone
	StateDirectReplySent
	StateFallbackSent
)

func (s State) String() string {
	switch s {
	case StateRouting:
		return "routing"
	case StateFlowSelected:
		return "flow_selected"
	case StateExecuting:
		return "executing"
	case StateDone:
		return "done"
	case StateDirectReplySent:
		return "direct_reply_sent"
	case StateFallbackSent:
		return "fallback_sent"
	default:
		return "unknown"
	}
}

// Flows is the external flow store collaborator.
type Flows interface {
	GetFlow(ctx context.Context, name string) (*Definition, error)
	EnabledFlows(ctx context.Context) ([]Summary, error)
}

// Transport delivers outbound sends to the customer.
type Transport interface {
	SendText(ctx context.Context, to, text string) error
	SendImage(ctx context.Context, to, url string) error
	SendVideo(ctx context.Context, to, url string) error
	SendSticker(ctx context.Context, to, url string) error
	SendAudio(ctx context.Context, to, url string) error
	SendDocument(ctx context.Context, to, url, caption string) error
	SendLocation(ctx context.Context, to string, lat, lng float64) error
}

// HistorySink records outbound messages. Writes are best-effort and must never
// block a reply.
type HistorySink interface {
	RecordOutbound(ctx context.Context, phone, message string)
}

// pendingSelection is the transient per-conversation flow state. It is created
// on selection and cleared when the flow executes.
type pendingSelection struct {
	flowName string
	override string // AI-authored reply; empty when the flow's canned content wins
}

// Machine owns per-conversation flow selection state and executes selected
// flow content.
type Machine struct {
	flows     Flows
	transport Transport
	history   HistorySink

	mu      sync.Mutex
	pending map[string]*pendingSelection // senderKey → selection
}

func NewMachine(flows Flows, transport Transport, history HistorySink) *Machine {
	return &Machine{
		flows:     flows,
		transport: transport,
		history:   history,
		pending:   make(map[string]*pendingSelection),
	}
}

// SelectFlow handles a destination-flow routing result. An unknown or disabled
// destination produces the catalog fallback; otherwise the selection is stored
// and the conversation moves to StateFlowSelected, awaiting ExecuteSelected.
func (m *Machine) SelectFlow(ctx context.Context, senderKey, name, override string) (State, error) {
	def, err := m.flows.GetFlow(ctx, name)
	if err != nil {
		slog.Warn("flow lookup failed", "flow", name, "error", err)
		def = nil
	}
	if def == nil {
		return m.catalogFallback(ctx, senderKey, "Ese tema aún no está disponible. Por ahora puedo ayudarte con %s.")
	}

	if def.DefaultResponse {
		override = "" // canned content takes precedence over the AI's answer
	}

	m.mu.Lock()
	m.pending[senderKey] = &pendingSelection{flowName: def.Name, override: override}
	m.mu.Unlock()

	return StateFlowSelected, nil
}

// DirectReply sends a plain conversational answer. No flow state is persisted.
func (m *Machine) DirectReply(ctx context.Context, senderKey, text string) (State, error) {
	if err := m.reply(ctx, senderKey, text); err != nil {
		return StateRouting, err
	}
	return StateDirectReplySent, nil
}

// Fallback answers a turn the classifier could not place anywhere.
func (m *Machine) Fallback(ctx context.Context, senderKey string) (State, error) {
	return m.catalogFallback(ctx, senderKey, "No logré entender el mensaje. Por ahora solo puedo ayudarte con %s.")
}

// ExecuteSelected is the dedicated re-entry point for a conversation in
// StateFlowSelected: it pops the pending selection and emits the flow content.
func (m *Machine) ExecuteSelected(ctx context.Context, senderKey string) (State, error) {
	m.mu.Lock()
	sel := m.pending[senderKey]
	delete(m.pending, senderKey)
	m.mu.Unlock()

	if sel == nil {
		return StateDone, fmt.Errorf("no pending flow for %s", senderKey)
	}

	def, err := m.flows.GetFlow(ctx, sel.flowName)
	if err != nil || def == nil {
		// The flow vanished between selection and execution.
		slog.Warn("selected flow unavailable", "flow", sel.flowName, "error", err)
		if sendErr := m.reply(ctx, senderKey, "No pude cargar el contenido."); sendErr != nil {
			return StateDone, sendErr
		}
		return StateDone, nil
	}

	if text := strings.TrimSpace(sel.override); text != "" {
		if err := m.reply(ctx, senderKey, text); err != nil {
			return StateDone, err
		}
	}

	m.sendMedia(ctx, senderKey, def)
	return StateDone, nil
}

// Selected reports whether a conversation has a pending flow selection.
func (m *Machine) Selected(senderKey string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending[senderKey] != nil
}

// sendMedia emits one outbound send per populated media reference, each with a
// terse history entry. Text always precedes media; media kinds are independent.
func (m *Machine) sendMedia(ctx context.Context, senderKey string, def *Definition) {
	send := func(kind, note string, fn func() error) {
		if err := fn(); err != nil {
			slog.Warn("media send failed", "flow", def.Name, "kind", kind, "error", err)
			return
		}
		m.history.RecordOutbound(ctx, senderKey, note)
	}

	if isURL(def.ImageURL) {
		send("image", "[Imagen enviada]", func() error {
			return m.transport.SendImage(ctx, senderKey, def.ImageURL)
		})
	}
	if isURL(def.VideoURL) {
		send("video", "[Video enviado]", func() error {
			return m.transport.SendVideo(ctx, senderKey, def.VideoURL)
		})
	}
	if isURL(def.StickerURL) {
		send("sticker", "[Sticker enviado]", func() error {
			return m.transport.SendSticker(ctx, senderKey, def.StickerURL)
		})
	}
	if isURL(def.AudioURL) {
		send("audio", "[Audio enviado]", func() error {
			return m.transport.SendAudio(ctx, senderKey, def.AudioURL)
		})
	}
	if isURL(def.DocumentURL) {
		send("document", "[Documento enviado]", func() error {
			return m.transport.SendDocument(ctx, senderKey, def.DocumentURL, "Aquí tienes el archivo.")
		})
	}
	if def.Lat != nil && def.Lng != nil {
		send("location", "[Ubicación enviada]", func() error {
			return m.transport.SendLocation(ctx, senderKey, *def.Lat, *def.Lng)
		})
	}
}

func (m *Machine) catalogFallback(ctx context.Context, senderKey, format string) (State, error) {
	names := "otros temas"
	if catalog, err := m.flows.EnabledFlows(ctx); err == nil && len(catalog) > 0 {
		list := make([]string, len(catalog))
		for i, f := range catalog {
			list[i] = f.Name
		}
		names = strings.Join(list, " y ")
	}
	if err := m.reply(ctx, senderKey, fmt.Sprintf(format, names)); err != nil {
		return StateRouting, err
	}
	return StateFallbackSent, nil
}

func (m *Machine) reply(ctx context.Context, senderKey, text string) error {
	if err := m.transport.SendText(ctx, senderKey, text); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	m.history.RecordOutbound(ctx, senderKey, text)
	return nil
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http")
}
