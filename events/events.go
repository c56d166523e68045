// Package events publishes a summary of every completed search to NATS so
// downstream consumers (analytics, audit) can follow query traffic.
// Trace context travels in the message headers.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"

	"github.com/poiesic/waypoint/core"
	"github.com/poiesic/waypoint/search"
)

// DefaultSubject is the subject search events are published on.
const DefaultSubject = "waypoint.search.completed"

// maxTopResults bounds the names carried in one event.
const maxTopResults = 5

// SearchEvent summarises one search call.
type SearchEvent struct {
	Query      string           `json:"query"`
	Candidates []core.Candidate `json:"candidates"`
	Results    int              `json:"results"`
	Top        []string         `json:"top,omitempty"`
	Outcome    string           `json:"outcome"`
	Error      string           `json:"error,omitempty"`
	DurationMs int64            `json:"duration_ms"`
	Timestamp  time.Time        `json:"timestamp"`
}

// headerCarrier adapts nats.Msg headers for the OTel TextMapCarrier.
type headerCarrier nats.Msg

func (c *headerCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *headerCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *headerCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// Publisher sends search events on one subject.
type Publisher struct {
	nc      *nats.Conn
	subject string
	outcome func(error) string
	logger  *slog.Logger
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithSubject overrides DefaultSubject.
func WithSubject(subject string) PublisherOption {
	return func(p *Publisher) {
		p.subject = subject
	}
}

// WithOutcome sets the function that turns a search error into the event's
// outcome label.
func WithOutcome(fn func(error) string) PublisherOption {
	return func(p *Publisher) {
		p.outcome = fn
	}
}

// WithLogger sets the publisher's logger.
func WithLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// NewPublisher wraps an established connection. The caller keeps ownership
// of nc.
func NewPublisher(nc *nats.Conn, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		nc:      nc,
		subject: DefaultSubject,
		outcome: defaultOutcome,
		logger:  slog.Default().With("component", "search-events"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func defaultOutcome(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}

// Subject returns the subject events are published on.
func (p *Publisher) Subject() string {
	return p.subject
}

// Publish serialises ev as JSON and publishes it with the trace context
// from ctx injected into the headers.
func (p *Publisher) Publish(ctx context.Context, ev SearchEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := &nats.Msg{
		Subject: p.subject,
		Data:    data,
	}
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))
	return p.nc.PublishMsg(msg)
}

// Subscribe delivers decoded events to handler. Malformed messages are
// dropped.
func Subscribe(nc *nats.Conn, subject string, handler func(context.Context, SearchEvent)) (*nats.Subscription, error) {
	return nc.Subscribe(subject, func(msg *nats.Msg) {
		var ev SearchEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return
		}
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*headerCarrier)(msg))
		handler(ctx, ev)
	})
}

// SearchMonitor returns a monitor for one search call that publishes the
// event when the search finishes or fails. Publish failures are logged and
// never affect the search.
func (p *Publisher) SearchMonitor(ctx context.Context) search.SearchMonitor {
	return &searchMonitor{publisher: p, ctx: ctx}
}

type searchMonitor struct {
	publisher *Publisher
	ctx       context.Context

	mu    sync.Mutex
	event SearchEvent
	start time.Time
}

var _ search.SearchMonitor = (*searchMonitor)(nil)

func (m *searchMonitor) Start(query string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.start = time.Now()
	m.event.Query = query
}

func (m *searchMonitor) AfterExpansion(candidates []core.Candidate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.event.Candidates = candidates
}

func (m *searchMonitor) EmbeddingCacheLookup(_ bool) {}

func (m *searchMonitor) AfterCandidateSearch(_ int, _ core.Candidate, _ []core.Match) {}

func (m *searchMonitor) Finish(results []core.ScoredResult) {
	m.mu.Lock()
	m.event.Results = len(results)
	for i := 0; i < len(results) && i < maxTopResults; i++ {
		m.event.Top = append(m.event.Top, results[i].Record.Name)
	}
	m.mu.Unlock()
	m.publish(nil)
}

func (m *searchMonitor) Failed(err error) {
	m.mu.Lock()
	m.event.Error = err.Error()
	m.mu.Unlock()
	m.publish(err)
}

func (m *searchMonitor) publish(err error) {
	m.mu.Lock()
	ev := m.event
	ev.Outcome = m.publisher.outcome(err)
	ev.Timestamp = time.Now().UTC()
	if !m.start.IsZero() {
		ev.DurationMs = time.Since(m.start).Milliseconds()
	}
	m.mu.Unlock()

	if perr := m.publisher.Publish(m.ctx, ev); perr != nil {
		m.publisher.logger.Warn("error publishing search event", "subject", m.publisher.subject, "err", perr)
	}
}
