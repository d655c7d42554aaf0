package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mcastell/convo/internal/config"
	"github.com/mcastell/convo/internal/flow"
)

// Message senders recorded in history.
const (
	SenderCustomer = "CLT" // inbound customer message
	SenderBot      = "BOT" // automated reply
	SenderOperator = "WHA" // message typed by the business itself
)

const (
	keyGlobalState = "state:global"
	userPrefix     = "user:"
	historyPrefix  = "history:"
	flowPrefix     = "flow:"
	keyFlowNames   = "flows:names"
	tokenPrefix    = "gtoken:"

	historyMax = 500 // messages kept per conversation
)

// HistoryEntry is one persisted chat message.
type HistoryEntry struct {
	Sender    string    `json:"sender"`
	Message   string    `json:"message"`
	MessageID string    `json:"messageId,omitempty"`
	At        time.Time `json:"at"`
}

// Store is the Redis-backed persistence layer: activation toggles, users,
// message history, flow definitions, and Google credentials.
type Store struct {
	rdb *redis.Client
}

func New(cfg config.RedisConfig) *Store {
	return &Store{rdb: redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})}
}

// NewWithClient wires an existing client, mainly for tests.
func NewWithClient(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

// --- activation state ---

func (s *Store) GlobalActive(ctx context.Context) (bool, error) {
	val, err := s.rdb.Get(ctx, keyGlobalState).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read global state: %w", err)
	}
	return val == "1", nil
}

func (s *Store) SetGlobalActive(ctx context.Context, active bool) error {
	return s.rdb.Set(ctx, keyGlobalState, boolVal(active), 0).Err()
}

func (s *Store) UserActive(ctx context.Context, phone string) (bool, error) {
	val, err := s.rdb.HGet(ctx, userPrefix+phone, "active").Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read user state: %w", err)
	}
	return val == "1", nil
}

func (s *Store) SetUserActive(ctx context.Context, phone string, active bool) error {
	return s.rdb.HSet(ctx, userPrefix+phone, "active", boolVal(active)).Err()
}

// EnsureUser creates the user record on first contact. New conversations start
// active; an existing record is never flipped back.
func (s *Store) EnsureUser(ctx context.Context, phone, name string) error {
	key := userPrefix + phone
	if err := s.rdb.HSetNX(ctx, key, "active", "1").Err(); err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}
	if name != "" {
		if err := s.rdb.HSet(ctx, key, "name", name).Err(); err != nil {
			return fmt.Errorf("set user name: %w", err)
		}
	}
	return nil
}

// Recorded reports the secondary "already in the directory" flag for a number.
func (s *Store) Recorded(ctx context.Context, phone string) (bool, error) {
	val, err := s.rdb.HGet(ctx, userPrefix+phone, "synced").Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return val == "1", nil
}

func (s *Store) MarkRecorded(ctx context.Context, phone string, recorded bool) error {
	return s.rdb.HSet(ctx, userPrefix+phone, "synced", boolVal(recorded)).Err()
}

// --- message history ---

func (s *Store) AppendMessage(ctx context.Context, phone string, entry HistoryEntry) error {
	if entry.At.IsZero() {
		entry.At = time.Now()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal history entry: %w", err)
	}
	key := historyPrefix + phone
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, -historyMax, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// RecordOutbound appends a bot reply to history. Best-effort: a reply that was
// already delivered is not worth failing over a bookkeeping write.
func (s *Store) RecordOutbound(ctx context.Context, phone, message string) {
	err := s.AppendMessage(ctx, phone, HistoryEntry{Sender: SenderBot, Message: message})
	if err != nil {
		slog.Warn("outbound history write failed", "phone", phone, "error", err)
	}
}

// Recent returns the last n history entries, oldest first.
func (s *Store) Recent(ctx context.Context, phone string, n int) ([]HistoryEntry, error) {
	if n <= 0 {
		return nil, nil
	}
	raw, err := s.rdb.LRange(ctx, historyPrefix+phone, int64(-n), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	return decodeEntries(raw)
}

// Messages returns the full retained history for a conversation, oldest first.
func (s *Store) Messages(ctx context.Context, phone string) ([]HistoryEntry, error) {
	raw, err := s.rdb.LRange(ctx, historyPrefix+phone, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	return decodeEntries(raw)
}

func decodeEntries(raw []string) ([]HistoryEntry, error) {
	entries := make([]HistoryEntry, 0, len(raw))
	for _, item := range raw {
		var e HistoryEntry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			continue // a corrupt entry is not worth failing the read
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// --- flow definitions ---

// GetFlow returns an enabled flow, or nil when the name is unknown or the flow
// is disabled. Callers treat both cases identically.
func (s *Store) GetFlow(ctx context.Context, name string) (*flow.Definition, error) {
	data, err := s.rdb.Get(ctx, flowPrefix+name).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read flow: %w", err)
	}
	var def flow.Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse flow %q: %w", name, err)
	}
	if !def.Enabled {
		return nil, nil
	}
	return &def, nil
}

// EnabledFlows returns the catalog of flows eligible for routing.
func (s *Store) EnabledFlows(ctx context.Context) ([]flow.Summary, error) {
	names, err := s.rdb.SMembers(ctx, keyFlowNames).Result()
	if err != nil {
		return nil, fmt.Errorf("list flows: %w", err)
	}
	summaries := make([]flow.Summary, 0, len(names))
	for _, name := range names {
		def, err := s.GetFlow(ctx, name)
		if err != nil {
			return nil, err
		}
		if def == nil {
			continue
		}
		summaries = append(summaries, flow.Summary{Name: def.Name, Prompt: def.Prompt})
	}
	return summaries, nil
}

func (s *Store) SaveFlow(ctx context.Context, def flow.Definition) error {
	data, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal flow: %w", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, flowPrefix+def.Name, data, 0)
	pipe.SAdd(ctx, keyFlowNames, def.Name)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save flow: %w", err)
	}
	return nil
}

// --- Google credentials ---

func (s *Store) GoogleToken(ctx context.Context, businessID string) (string, error) {
	val, err := s.rdb.Get(ctx, tokenPrefix+businessID).Result()
	if err == redis.Nil {
		return "", fmt.Errorf("no Google credentials for business %s", businessID)
	}
	if err != nil {
		return "", fmt.Errorf("read Google token: %w", err)
	}
	return val, nil
}

func (s *Store) SetGoogleToken(ctx context.Context, businessID, token string) error {
	return s.rdb.Set(ctx, tokenPrefix+businessID, token, 0).Err()
}

func boolVal(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
