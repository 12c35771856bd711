package history

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-webthing/internal/thing"
)

// SubscriberID identifies the recorder on every Thing it observes.
const SubscriberID = "history-recorder"

const (
	defaultBuffer        = 1024
	defaultPruneInterval = time.Hour
	writeTimeout         = 5 * time.Second
)

// Logger defines the logging interface used by the recorder.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(_ string, _ ...any) {}
func (noopLogger) Info(_ string, _ ...any)  {}
func (noopLogger) Warn(_ string, _ ...any)  {}
func (noopLogger) Error(_ string, _ ...any) {}

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	// Buffer is the notification queue size. Overflow is discarded.
	Buffer int

	// Retention deletes entries older than this. Zero keeps everything.
	Retention time.Duration

	// PruneInterval is how often retention is enforced.
	PruneInterval time.Duration
}

// Recorder writes every notification from a set of Things to a Repository.
type Recorder struct {
	repo   Repository
	things []*thing.Thing
	cfg    RecorderConfig
	logger Logger
	now    func() time.Time
}

// NewRecorder creates a recorder for the given things.
func NewRecorder(repo Repository, things []*thing.Thing, cfg RecorderConfig) *Recorder {
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultBuffer
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = defaultPruneInterval
	}
	return &Recorder{
		repo:   repo,
		things: things,
		cfg:    cfg,
		logger: noopLogger{},
		now:    time.Now,
	}
}

// SetLogger sets the logger for the recorder.
func (r *Recorder) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Run subscribes to every Thing and records notifications until ctx is
// cancelled. It always returns nil so it can run inside an errgroup.
func (r *Recorder) Run(ctx context.Context) error {
	sink := thing.NewSinkSubscriber(SubscriberID, r.cfg.Buffer)
	for _, t := range r.things {
		t.Subscribe(sink)
	}
	defer func() {
		for _, t := range r.things {
			t.Unsubscribe(SubscriberID)
		}
		sink.Close()
		if n := sink.Dropped(); n > 0 {
			r.logger.Warn("history recorder dropped notifications", "count", n)
		}
	}()

	var prune <-chan time.Time
	if r.cfg.Retention > 0 {
		ticker := time.NewTicker(r.cfg.PruneInterval)
		defer ticker.Stop()
		prune = ticker.C
		r.prune(ctx)
	}

	r.logger.Info("history recorder started", "things", len(r.things))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("history recorder stopped")
			return nil
		case msg := <-sink.Messages():
			r.record(ctx, msg)
		case <-prune:
			r.prune(ctx)
		}
	}
}

// RecordNotification converts and stores a single notification.
func (r *Recorder) RecordNotification(ctx context.Context, msg thing.Message) error {
	e, err := EntryFromMessage(msg)
	if err != nil {
		return err
	}
	e.RecordedAt = r.now()
	return r.repo.Record(ctx, e)
}

func (r *Recorder) record(ctx context.Context, msg thing.Message) {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if err := r.RecordNotification(writeCtx, msg); err != nil {
		r.logger.Error("recording notification failed",
			"thing", msg.ThingID,
			"kind", msg.MessageType,
			"error", err,
		)
	}
}

func (r *Recorder) prune(ctx context.Context) {
	n, err := r.repo.Prune(ctx, r.now().Add(-r.cfg.Retention))
	if err != nil {
		r.logger.Error("pruning history failed", "error", err)
		return
	}
	if n > 0 {
		r.logger.Debug("pruned history", "deleted", n)
	}
}
