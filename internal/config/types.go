package config

type Config struct {
	Gateway    GatewayConfig            `yaml:"gateway" json:"gateway"`
	Business   BusinessConfig           `yaml:"business" json:"business"`
	Classifier ClassifierConfig         `yaml:"classifier" json:"classifier"`
	Redis      RedisConfig              `yaml:"redis" json:"redis"`
	Features   map[string]FeatureConfig `yaml:"features" json:"features"`
}

type GatewayConfig struct {
	Port int        `yaml:"port" json:"port"`
	Auth AuthConfig `yaml:"auth" json:"auth"`
}

type AuthConfig struct {
	Token string `yaml:"token" json:"token"`
}

type BusinessConfig struct {
	ID          string `yaml:"id" json:"id"`                       // business account id (owner phone number)
	Timezone    string `yaml:"timezone" json:"timezone"`           // IANA zone, e.g. America/Monterrey
	QuietPeriod int    `yaml:"quietPeriodMs" json:"quietPeriodMs"` // coalescing window in milliseconds
}

type ClassifierConfig struct {
	APIKey         string `yaml:"apiKey" json:"apiKey"`
	BaseURL        string `yaml:"baseURL" json:"baseURL"`
	Model          string `yaml:"model" json:"model"`
	TimeoutSeconds int    `yaml:"timeoutSeconds" json:"timeoutSeconds"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
}

// FeatureConfig is the per-feature settings block. An unknown feature key
// resolves to the zero value, which is disabled.
type FeatureConfig struct {
	Enabled  bool         `yaml:"enabled" json:"enabled"`
	Hours    *HoursConfig `yaml:"hours,omitempty" json:"hours,omitempty"`       // chatbot: active window
	Depth    int          `yaml:"depth,omitempty" json:"depth,omitempty"`       // history: messages of context
	Capacity int          `yaml:"capacity,omitempty" json:"capacity,omitempty"` // calendar: max concurrent bookings
	Schedule string       `yaml:"schedule,omitempty" json:"schedule,omitempty"` // calendar: business hours shown to the classifier
}

// HoursConfig is a daily HH:MM window in the business timezone.
type HoursConfig struct {
	Start string `yaml:"start" json:"start"`
	End   string `yaml:"end" json:"end"`
}

// Feature keys understood by the engine.
const (
	FeatureChatbot     = "chatbot"
	FeatureContacts    = "contacts"
	FeatureCalendar    = "calendar"
	FeatureHistory     = "history"
	FeaturePersistence = "persistence"
)

// KnownFeatures is the fixed set of feature keys reported in status output.
var KnownFeatures = []string{
	FeatureChatbot, FeatureContacts, FeatureCalendar, FeatureHistory, FeaturePersistence,
}

// FeatureStates maps every known feature key to its enabled state, for the
// startup and daily status reports.
func (c *Config) FeatureStates() map[string]bool {
	out := make(map[string]bool, len(KnownFeatures))
	for _, key := range KnownFeatures {
		out[key] = c.Feature(key).Enabled
	}
	return out
}

// Feature returns the settings for a feature key, disabled when absent.
func (c *Config) Feature(key string) FeatureConfig {
	if c == nil || c.Features == nil {
		return FeatureConfig{}
	}
	return c.Features[key]
}

func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{Port: 3008},
		Business: BusinessConfig{
			Timezone:    "America/Monterrey",
			QuietPeriod: 6000,
		},
		Classifier: ClassifierConfig{
			Model:          "gpt-4o",
			TimeoutSeconds: 30,
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		Features: map[string]FeatureConfig{
			FeatureChatbot:     {Enabled: true},
			FeaturePersistence: {Enabled: true},
			FeatureHistory:     {Enabled: true, Depth: 5},
		},
	}
}
