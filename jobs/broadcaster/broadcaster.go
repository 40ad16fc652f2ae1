package broadcaster

import (
	"context"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"l3sim/infra/outbox"
)

// Broadcaster drains the outbox into a Kafka topic. An entry is marked Sent
// before publishing and Acked after, so a crash in between republishes it.
type Broadcaster struct {
	box      *outbox.Outbox
	producer sarama.SyncProducer
	topic    string
	interval time.Duration
	log      *zap.Logger
}

// ------------------------------------------------
// CONSTRUCTOR
// ------------------------------------------------

func New(
	box *outbox.Outbox,
	brokers []string,
	topic string,
	log *zap.Logger,
) (*Broadcaster, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return NewWithProducer(box, producer, topic, log), nil
}

func NewWithProducer(box *outbox.Outbox, producer sarama.SyncProducer, topic string, log *zap.Logger) *Broadcaster {
	if log == nil {
		log = zap.NewNop()
	}
	return &Broadcaster{
		box:      box,
		producer: producer,
		topic:    topic,
		interval: 250 * time.Millisecond,
		log:      log,
	}
}

// ------------------------------------------------
// START LOOP
// ------------------------------------------------

func (b *Broadcaster) Start(ctx context.Context) {
	b.log.Info("broadcaster started", zap.String("topic", b.topic))

	go func() {
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return

			case <-ticker.C:
				acked, _, err := b.Flush()
				if err != nil {
					b.log.Warn("outbox scan", zap.Error(err))
				}
				if acked == 0 {
					continue
				}
				if _, err := b.box.TruncateAcked(); err != nil {
					b.log.Warn("outbox truncate", zap.Error(err))
				}
			}
		}
	}()
}

// ------------------------------------------------
// FLUSH
// ------------------------------------------------

// Flush publishes every pending entry once. Failed sends stay pending.
func (b *Broadcaster) Flush() (acked, failed int, err error) {
	err = b.box.ScanPending(func(e outbox.Entry) error {
		if err := b.box.MarkSent(e.Seq); err != nil {
			return err
		}

		msg := &sarama.ProducerMessage{
			Topic: b.topic,
			Value: sarama.ByteEncoder(e.Payload),
		}
		if _, _, err := b.producer.SendMessage(msg); err != nil {
			failed++
			b.log.Debug("publish failed", zap.Uint64("seq", e.Seq), zap.Uint32("retries", e.Retries), zap.Error(err))
			return b.box.MarkFailed(e.Seq)
		}

		acked++
		return b.box.MarkAcked(e.Seq)
	})
	return acked, failed, err
}

// ------------------------------------------------
// SHUTDOWN
// ------------------------------------------------

func (b *Broadcaster) Close() error {
	return b.producer.Close()
}
