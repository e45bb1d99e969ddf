package broker

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/portwatch/container-scrape-worker/config"
	"github.com/portwatch/container-scrape-worker/internal/model"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress/lz4"
)

// NewKafkaProducer takes confirmed status-change events from eventChan and
// sends them to kafka. Only genuine fingerprint mismatches ever reach this
// channel, so every message downstream is a real transition.
// After shutdown, the function will continue execution until eventChan runs
// out of events.
func NewKafkaProducer(wg *sync.WaitGroup, eventChan <-chan *model.StatusChangeEvent, log *slog.Logger,
	cfg *config.ProducerConfig) {
	defer wg.Done()
	log.Info("starting kafka producer...", slog.String("topic", cfg.WriteTopicName))

	w := kafka.Writer{
		Addr:         kafka.TCP(strings.Split(cfg.Addr, ",")...),
		Topic:        cfg.WriteTopicName,
		Balancer:     &kafka.Hash{},
		MaxAttempts:  cfg.MaxAttempts,
		BatchSize:    1,                // the parameter is controlled by 'batchTicker' variable
		BatchTimeout: time.Millisecond, // the parameter is controlled by 'batch' variable
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAsks),
		Async:        cfg.Async,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				log.Error("failed to send messages to kafka.", slog.String("err", err.Error()))
			}
		},
		Compression: kafka.Compression(new(lz4.Codec).Code()),
	}
	defer func() {
		err := w.Close()
		if err != nil {
			log.Error("failed to close kafka writer.", slog.String("err", err.Error()))
		}
	}()

	batchTicker := time.NewTicker(cfg.BatchTimeout)
	batch := make([]kafka.Message, 0, cfg.BatchSize)
	writeMessage := func(batch []kafka.Message) {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.WriteTimeout)
		defer cancel()
		err := w.WriteMessages(ctx, batch...)
		if err != nil {
			log.Error("failed to send messages to kafka.", slog.String("err", err.Error()))
			return
		}
		log.Debug("successfully sent messages to kafka.", slog.Int("batch length", len(batch)))
	}

	for event := range eventChan {
		body, err := json.Marshal(event)
		if err != nil {
			log.Error("marshaling error.", slog.String("err", err.Error()), slog.Any("event", event))
			continue
		}
		// Key by container so all transitions of one box land in order
		// on the same partition.
		batch = append(batch, kafka.Message{
			Key:   []byte(event.ContainerNo),
			Value: body,
		})
		select {
		case <-batchTicker.C:
			writeMessage(batch)
			batch = make([]kafka.Message, 0, cfg.BatchSize)
		default:
			if len(batch) >= cfg.BatchSize {
				writeMessage(batch)
				batch = make([]kafka.Message, 0, cfg.BatchSize)
			}
		}
	}
	// Some messages may remain in the batch after eventChan is closed
	if len(batch) > 0 {
		log.Debug("messages in batch.", slog.Int("count", len(batch)))
		writeMessage(batch)
	}
	log.Info("stopping kafka writer.")
}
