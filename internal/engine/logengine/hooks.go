package logengine

import "github.com/rs/zerolog"

// Metrics is the narrow surface the engine needs from an observability
// backend. internal/metrics implements this against prometheus collectors;
// tests can supply a no-op or a counting fake.
type Metrics interface {
	IncCompactions()
	SetStaleBytes(float64)
	IncOps(op string)
}

// EventKind tags what changed, for Notifier.Publish.
type EventKind string

const (
	EventSet        EventKind = "set"
	EventRemove     EventKind = "remove"
	EventCompaction EventKind = "compaction"
)

// Event describes one change worth telling the outside world about. It is
// fire-and-forget: nothing in this package blocks on or retries a publish.
type Event struct {
	Kind EventKind
	Key  string
	Gen  uint64
}

// Notifier is the optional change-notification sink. internal/notify
// implements this over NATS; a nil Notifier disables publishing entirely.
type Notifier interface {
	Publish(Event)
}

func compactionEvent(gen uint64) Event {
	return Event{Kind: EventCompaction, Gen: gen}
}

// Option configures an Engine at Open time.
type Option func(*Engine)

// WithFsync forces an fsync after every append. Off by default, matching the
// design notes' stance that durability-on-every-write is a throughput trade
// the caller must opt into.
func WithFsync(enabled bool) Option {
	return func(e *Engine) { e.fsyncOverride = &enabled }
}

// WithCompactionThreshold overrides the default 1 MiB stale-bytes trigger.
func WithCompactionThreshold(bytes uint64) Option {
	return func(e *Engine) { e.compactionThreshold = bytes }
}

// WithLogger attaches structured logging to engine lifecycle events.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = &logger }
}

// WithMetrics attaches a Metrics sink.
func WithMetrics(m Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithNotifier attaches a change-notification sink.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}
