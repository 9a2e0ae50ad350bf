package camera

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"crosswatch/internal/metrics"
	"crosswatch/internal/types"
)

// MessageReader is the subset of kafka.Reader the consumer loop drives.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// fetchRetryWait is how long a consumer waits after a broker error before
// fetching again.
const fetchRetryWait = time.Second

// IngestorConfig carries the Kafka consumer settings for the per-direction
// analytics topics.
type IngestorConfig struct {
	Brokers []string
	GroupID string
	Topics  map[types.Direction]string
	MaxWait time.Duration
	Metrics metrics.Recorder
	Logger  *slog.Logger
}

// Ingestor consumes the four camera analytics topics and feeds the state
// view. One consumer goroutine runs per direction; offsets are committed
// only after a message has been applied (or rejected as malformed), so a
// crash never loses an uncommitted reading.
type Ingestor struct {
	view    *StateView
	readers map[types.Direction]MessageReader
	dec     *payloadDecoder
	rec     metrics.Recorder
	logger  *slog.Logger

	// backoff between fetch attempts after a broker error.
	backoff time.Duration
}

// NewIngestor builds an ingestor with one Kafka reader per configured topic.
func NewIngestor(view *StateView, cfg IngestorConfig) *Ingestor {
	readers := make(map[types.Direction]MessageReader, len(cfg.Topics))
	for d, topic := range cfg.Topics {
		readers[d] = kafka.NewReader(kafka.ReaderConfig{
			Brokers:        cfg.Brokers,
			GroupID:        cfg.GroupID,
			Topic:          topic,
			MinBytes:       1,
			MaxBytes:       10e6,
			MaxWait:        cfg.MaxWait,
			CommitInterval: 0, // explicit commits after apply
			StartOffset:    kafka.LastOffset,
		})
	}
	return NewIngestorWithReaders(view, readers, cfg.Metrics, cfg.Logger)
}

// NewIngestorWithReaders wires pre-built readers, used by tests.
func NewIngestorWithReaders(view *StateView, readers map[types.Direction]MessageReader, rec metrics.Recorder, logger *slog.Logger) *Ingestor {
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		view:    view,
		readers: readers,
		dec:     newPayloadDecoder(),
		rec:     rec,
		logger:  logger,
		backoff: fetchRetryWait,
	}
}

// Run consumes all direction topics until ctx is cancelled, then closes the
// readers and returns nil. Broker errors are logged and retried; they never
// stop the other directions.
func (in *Ingestor) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	for d, r := range in.readers {
		d := d
		r := r
		g.Go(func() error {
			defer r.Close()
			return in.consume(gCtx, d, r)
		})
	}

	return g.Wait()
}

func (in *Ingestor) consume(ctx context.Context, d types.Direction, r MessageReader) error {
	log := in.logger.With(slog.String("direction", string(d)))
	log.InfoContext(ctx, "camera consumer started")

	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			// io.EOF means the reader was closed during shutdown.
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				log.InfoContext(ctx, "camera consumer stopped")
				return nil
			}
			log.ErrorContext(ctx, "failed to fetch camera message",
				slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				log.InfoContext(ctx, "camera consumer stopped")
				return nil
			case <-time.After(in.backoff):
			}
			continue
		}

		in.handle(ctx, d, r, log, msg)
	}
}

// handle applies one fetched message and commits its offset. Malformed
// messages are committed too: they are skipped, never retried, and never
// partially applied.
func (in *Ingestor) handle(ctx context.Context, d types.Direction, r MessageReader, log *slog.Logger, msg kafka.Message) {
	reading, frame, err := decodeAnalyticsMessage(in.dec, d, msg.Value)
	if err != nil {
		log.WarnContext(ctx, "skipping malformed camera message",
			slog.Int64("offset", msg.Offset),
			slog.String("error", err.Error()))
		in.rec.IngestMalformed(ctx, d)
	} else {
		in.view.Apply(reading, frame)
		in.rec.IngestMessage(ctx, d)
	}

	if err := r.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
		log.ErrorContext(ctx, "failed to commit camera message offset",
			slog.Int64("offset", msg.Offset),
			slog.String("error", err.Error()))
	}
}
