package gateway

import "context"

// Outbound event names pushed to the channel bridge.
const (
	EventText     = "outbound.text"
	EventImage    = "outbound.image"
	EventVideo    = "outbound.video"
	EventSticker  = "outbound.sticker"
	EventAudio    = "outbound.audio"
	EventDocument = "outbound.document"
	EventLocation = "outbound.location"
)

// BridgeTransport delivers outbound sends by pushing events to the connected
// channel bridge. It is the gateway-side half of the reply path.
type BridgeTransport struct {
	conns   *ConnManager
	channel string
}

func NewBridgeTransport(conns *ConnManager, channel string) *BridgeTransport {
	if channel == "" {
		channel = ChannelWhatsApp
	}
	return &BridgeTransport{conns: conns, channel: channel}
}

type textPayload struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

type mediaPayload struct {
	To      string `json:"to"`
	URL     string `json:"url"`
	Caption string `json:"caption,omitempty"`
}

type locationPayload struct {
	To  string  `json:"to"`
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (t *BridgeTransport) SendText(_ context.Context, to, text string) error {
	return t.conns.SendToChannel(t.channel, EventText, textPayload{To: to, Text: text})
}

func (t *BridgeTransport) SendImage(_ context.Context, to, url string) error {
	return t.conns.SendToChannel(t.channel, EventImage, mediaPayload{To: to, URL: url})
}

func (t *BridgeTransport) SendVideo(_ context.Context, to, url string) error {
	return t.conns.SendToChannel(t.channel, EventVideo, mediaPayload{To: to, URL: url})
}

func (t *BridgeTransport) SendSticker(_ context.Context, to, url string) error {
	return t.conns.SendToChannel(t.channel, EventSticker, mediaPayload{To: to, URL: url})
}

func (t *BridgeTransport) SendAudio(_ context.Context, to, url string) error {
	return t.conns.SendToChannel(t.channel, EventAudio, mediaPayload{To: to, URL: url})
}

func (t *BridgeTransport) SendDocument(_ context.Context, to, url, caption string) error {
	return t.conns.SendToChannel(t.channel, EventDocument, mediaPayload{To: to, URL: url, Caption: caption})
}

func (t *BridgeTransport) SendLocation(_ context.Context, to string, lat, lng float64) error {
	return t.conns.SendToChannel(t.channel, EventLocation, locationPayload{To: to, Lat: lat, Lng: lng})
}
