package flow

// AppointmentFlow is the reserved destination name for the scheduling sub-flow.
// The classifier may return it directly; it never appears in the flow catalog.
const AppointmentFlow = "agendar_cita"

// Definition is an immutable-per-fetch flow record. A flow is only eligible
// for routing while Enabled is true.
type Definition struct {
	Name            string   `json:"name"`
	Enabled         bool     `json:"enabled"`
	DefaultResponse bool     `json:"defaultResponse"` // canned content wins over the AI's free-text answer
	Prompt          string   `json:"prompt"`          // short description shown to the classifier
	ImageURL        string   `json:"imageUrl,omitempty"`
	VideoURL        string   `json:"videoUrl,omitempty"`
	StickerURL      string   `json:"stickerUrl,omitempty"`
	AudioURL        string   `json:"audioUrl,omitempty"`
	DocumentURL     string   `json:"documentUrl,omitempty"`
	Lat             *float64 `json:"lat,omitempty"`
	Lng             *float64 `json:"lng,omitempty"`
}

// Summary is the catalog entry handed to the classifier.
type Summary struct {
	Name   string `json:"name"`
	Prompt string `json:"prompt"`
}
