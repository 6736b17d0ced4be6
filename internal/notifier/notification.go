// Package notifier implements the Notifier (consumed): "notify(text)
// best-effort fire-and-forget; no back-pressure." Underneath the single
// exported Notify call sits a small notification center supporting
// multiple channels, priority-based routing, and delivery history, in the
// shape the rest of the pack's notification systems use.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// NotificationPriority ranks how insistently a notification should be
// delivered. Channels may opt out of low-priority traffic via
// ChannelConfig.MinPriority; every channel receives CRITICAL notifications
// regardless of MinPriority, as long as it Supports that priority.
type NotificationPriority int

const (
	PriorityLow NotificationPriority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p NotificationPriority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityNormal:
		return "NORMAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityCritical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("PRIORITY(%d)", int(p))
	}
}

// Notification is one message routed through the Center.
type Notification struct {
	ID        string
	UserID    string
	Title     string
	Body      string
	Priority  NotificationPriority
	Channel   string
	Metadata  map[string]string
	CreatedAt time.Time
}

// DeliveryStatus is the outcome of one channel delivery attempt.
type DeliveryStatus string

const (
	StatusDelivered DeliveryStatus = "delivered"
	StatusFailed    DeliveryStatus = "failed"
)

// NotificationResult records what happened when a Notification was routed
// to a specific channel.
type NotificationResult struct {
	NotificationID string
	Channel        string
	Status         DeliveryStatus
	Error          string
	At             time.Time
}

// Channel is a single delivery target.
type Channel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
	Supports(p NotificationPriority) bool
}

// ChannelConfig controls how the Center routes to a registered Channel.
type ChannelConfig struct {
	Name        string
	Enabled     bool
	MinPriority NotificationPriority
	IsDefault   bool
}

type registeredChannel struct {
	channel Channel
	cfg     ChannelConfig
}

// Center fans notifications out to registered channels, tracks the
// default routing target, and retains a bounded history of results.
type Center struct {
	mu             sync.Mutex
	channels       map[string]*registeredChannel
	defaultChannel string
	history        []NotificationResult
	historySize    int
}

// Option configures a Center at construction time.
type Option func(*Center)

// WithDefaultChannel names the channel Send uses when a Notification
// leaves Channel empty.
func WithDefaultChannel(name string) Option {
	return func(c *Center) { c.defaultChannel = name }
}

// WithHistorySize bounds how many NotificationResults History retains.
func WithHistorySize(n int) Option {
	return func(c *Center) { c.historySize = n }
}

// NewCenter builds an empty Center.
func NewCenter(opts ...Option) *Center {
	c := &Center{
		channels:    make(map[string]*registeredChannel),
		historySize: 200,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterChannel adds or replaces a channel under cfg.Name (defaulting
// to channel.Name() when cfg.Name is empty). Registering with
// IsDefault=true also sets it as the Center's default.
func (c *Center) RegisterChannel(channel Channel, cfg ChannelConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	name := cfg.Name
	if name == "" {
		name = channel.Name()
	}
	cfg.Name = name
	c.channels[name] = &registeredChannel{channel: channel, cfg: cfg}
	if cfg.IsDefault {
		c.defaultChannel = name
	}
}

// UnregisterChannel removes a channel, clearing the default if it was one.
func (c *Center) UnregisterChannel(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.channels, name)
	if c.defaultChannel == name {
		c.defaultChannel = ""
	}
}

// ListChannels returns the config of every registered channel.
func (c *Center) ListChannels() []ChannelConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ChannelConfig, 0, len(c.channels))
	for _, rc := range c.channels {
		out = append(out, rc.cfg)
	}
	return out
}

// SetDefault changes the default routing target.
func (c *Center) SetDefault(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.channels[name]; !ok {
		return fmt.Errorf("notifier: channel %q not registered", name)
	}
	for n, rc := range c.channels {
		rc.cfg.IsDefault = n == name
	}
	c.defaultChannel = name
	return nil
}

// Send routes n to n.Channel, or the Center's default when n.Channel is
// empty. CRITICAL notifications additionally fan out to every other
// enabled channel that Supports(PriorityCritical), best-effort.
func (c *Center) Send(ctx context.Context, n Notification) (NotificationResult, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	target := n.Channel
	if target == "" {
		c.mu.Lock()
		target = c.defaultChannel
		c.mu.Unlock()
		if target == "" {
			return NotificationResult{}, fmt.Errorf("notifier: no channel specified and no default channel set")
		}
	}

	result := c.deliver(ctx, target, n)
	c.record(result)

	if n.Priority == PriorityCritical {
		for _, name := range c.otherChannels(target) {
			fanoutResult := c.deliver(ctx, name, n)
			c.record(fanoutResult)
		}
	}

	return result, nil
}

// SendMulti routes n to each named channel independently.
func (c *Center) SendMulti(ctx context.Context, n Notification, channels []string) ([]NotificationResult, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	results := make([]NotificationResult, 0, len(channels))
	for _, name := range channels {
		result := c.deliver(ctx, name, n)
		c.record(result)
		results = append(results, result)
	}
	return results, nil
}

func (c *Center) otherChannels(exclude string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.channels))
	for name, rc := range c.channels {
		if name == exclude || !rc.cfg.Enabled {
			continue
		}
		if !rc.channel.Supports(PriorityCritical) {
			continue
		}
		names = append(names, name)
	}
	return names
}

func (c *Center) deliver(ctx context.Context, name string, n Notification) NotificationResult {
	result := NotificationResult{NotificationID: n.ID, Channel: name, At: time.Now().UTC()}

	c.mu.Lock()
	rc, ok := c.channels[name]
	c.mu.Unlock()

	if !ok {
		result.Status = StatusFailed
		result.Error = fmt.Sprintf("channel %q not found", name)
		return result
	}
	if !rc.cfg.Enabled {
		result.Status = StatusFailed
		result.Error = fmt.Sprintf("channel %q is disabled", name)
		return result
	}
	if n.Priority < rc.cfg.MinPriority {
		result.Status = StatusFailed
		result.Error = fmt.Sprintf("notification priority %s below channel minimum %s", n.Priority, rc.cfg.MinPriority)
		return result
	}

	if err := rc.channel.Send(ctx, n); err != nil {
		result.Status = StatusFailed
		result.Error = err.Error()
		return result
	}
	result.Status = StatusDelivered
	return result
}

func (c *Center) record(result NotificationResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, result)
	if len(c.history) > c.historySize {
		c.history = c.history[len(c.history)-c.historySize:]
	}
}

// History returns up to limit past results, most recent first. channel
// filters to a single channel name when non-empty.
func (c *Center) History(channel string, limit int) []NotificationResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]NotificationResult, 0, limit)
	for i := len(c.history) - 1; i >= 0 && len(out) < limit; i-- {
		if channel != "" && c.history[i].Channel != channel {
			continue
		}
		out = append(out, c.history[i])
	}
	return out
}

// LogChannel writes notifications as single lines to an io.Writer.
type LogChannel struct {
	name string
	out  io.Writer
	mu   sync.Mutex
}

// NewLogChannel builds a LogChannel writing to out.
func NewLogChannel(name string, out io.Writer) *LogChannel {
	return &LogChannel{name: name, out: out}
}

func (l *LogChannel) Name() string { return l.name }

func (l *LogChannel) Send(_ context.Context, n Notification) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := fmt.Fprintf(l.out, "[%s] [%s] %s: %s\n",
		n.CreatedAt.UTC().Format(time.RFC3339), n.Priority, n.Title, n.Body)
	return err
}

func (l *LogChannel) Supports(NotificationPriority) bool { return true }

// webhookPayload is the JSON body posted by WebhookChannel. Its shape
// doubles as a Telegram-style bot webhook: title/body carry the message
// text, metadata carries any structured context (bed IDs, task IDs).
type webhookPayload struct {
	ID       string            `json:"id"`
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Priority int               `json:"priority"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// WebhookChannel posts each notification as JSON to a fixed URL.
type WebhookChannel struct {
	name    string
	url     string
	client  *http.Client
	headers map[string]string
}

// WebhookOption configures a WebhookChannel at construction time.
type WebhookOption func(*WebhookChannel)

// WithTimeout bounds how long a single webhook POST may take.
func WithTimeout(d time.Duration) WebhookOption {
	return func(w *WebhookChannel) { w.client.Timeout = d }
}

// WithHeaders sets extra headers sent with every POST (e.g. bot tokens).
func WithHeaders(headers map[string]string) WebhookOption {
	return func(w *WebhookChannel) {
		for k, v := range headers {
			w.headers[k] = v
		}
	}
}

// NewWebhookChannel builds a WebhookChannel posting to url.
func NewWebhookChannel(name, url string, opts ...WebhookOption) *WebhookChannel {
	w := &WebhookChannel{
		name:    name,
		url:     url,
		client:  &http.Client{Timeout: 10 * time.Second},
		headers: make(map[string]string),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *WebhookChannel) Name() string { return w.name }

func (w *WebhookChannel) Send(ctx context.Context, n Notification) error {
	payload := webhookPayload{
		ID:       n.ID,
		Title:    n.Title,
		Body:     n.Body,
		Priority: int(n.Priority),
		Metadata: n.Metadata,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notifier: webhook %q returned status %d", w.name, resp.StatusCode)
	}
	return nil
}

func (w *WebhookChannel) Supports(NotificationPriority) bool { return true }
