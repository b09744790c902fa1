// Команда dlq-reprocess перечитывает DLQ уведомлений и возвращает конверты
// в исходные topics. По умолчанию работает в режиме dry-run.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/messaging/kafka"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
	envKafkaBrokers    = "SHOP_KAFKA_BROKERS"
)

type replayOptions struct {
	brokers     []string
	sourceTopic string
	// targetTopic переопределяет original_topic записи, если задан.
	targetTopic string
	entity      string
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
}

type offsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

type partitionConsumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error)
	Close() error
}

type replayPublisher interface {
	PublishRaw(topic, key string, value []byte, headers ...sarama.RecordHeader) error
	Close() error
}

type consumerAdapter struct {
	consumer sarama.Consumer
}

func (a consumerAdapter) ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error) {
	return a.consumer.ConsumePartition(topic, partition, offset)
}

func (a consumerAdapter) Close() error {
	return a.consumer.Close()
}

// replayDeps собирает клиентов Kafka. Producer создаётся только в режиме execute.
var replayDeps = func(opts replayOptions, logger *log.Entry) (offsetClient, partitionSource, replayPublisher, error) {
	cfg := sarama.NewConfig()
	cfg.Consumer.Return.Errors = true

	client, err := sarama.NewClient(opts.brokers, cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create kafka client: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	if !opts.execute {
		return client, consumerAdapter{consumer: consumer}, nil, nil
	}

	producer, err := kafka.NewProducer(kafka.ProducerConfig{Brokers: opts.brokers, ClientID: "shop-dlq-reprocess"},
		logger.WithField("component", "dlq-replay-producer"))
	if err != nil {
		_ = consumer.Close()
		_ = client.Close()
		return nil, nil, nil, err
	}
	return client, consumerAdapter{consumer: consumer}, producer, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	opts, err := parseArgs(os.Args[1:], os.LookupEnv)
	if err != nil {
		fail("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := run(ctx, opts, log.WithField("component", "dlq-reprocess")); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func parseArgs(args []string, lookupEnv func(string) (string, bool)) (replayOptions, error) {
	var (
		brokersRaw string
		opts       replayOptions
	)
	fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&brokersRaw, "brokers", "", "Kafka brokers, comma-separated (fallback: "+envKafkaBrokers+")")
	fs.StringVar(&opts.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ topic to read")
	fs.StringVar(&opts.targetTopic, "target-topic", "", "override topic for replay (default: original topic)")
	fs.StringVar(&opts.entity, "entity", "", "replay only letters of this entity: order|product")
	fs.IntVar(&opts.limit, "limit", defaultReplayLimit, "max number of letters to scan")
	fs.BoolVar(&opts.execute, "execute", false, "publish letters; default is dry-run")
	fs.BoolVar(&opts.fromNewest, "from-newest", false, "scan the latest letters (bounded by limit)")
	fs.DurationVar(&opts.idleTimeout, "idle-timeout", defaultIdleTimeout, "idle timeout per partition")
	if err := fs.Parse(args); err != nil {
		return replayOptions{}, err
	}

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw, _ = lookupEnv(envKafkaBrokers)
	}
	opts.brokers = splitList(brokersRaw)
	opts.sourceTopic = strings.TrimSpace(opts.sourceTopic)
	opts.targetTopic = strings.TrimSpace(opts.targetTopic)
	opts.entity = strings.ToLower(strings.TrimSpace(opts.entity))

	var problems []error
	if len(opts.brokers) == 0 {
		problems = append(problems, errors.New("kafka brokers are required (-brokers or "+envKafkaBrokers+")"))
	}
	if opts.sourceTopic == "" {
		problems = append(problems, errors.New("source-topic is required"))
	}
	switch opts.entity {
	case "", "order", "product":
	default:
		problems = append(problems, fmt.Errorf("unsupported entity %q", opts.entity))
	}
	if opts.limit <= 0 {
		problems = append(problems, errors.New("limit must be positive"))
	}
	if opts.idleTimeout <= 0 {
		problems = append(problems, errors.New("idle-timeout must be positive"))
	}
	if err := errors.Join(problems...); err != nil {
		return replayOptions{}, err
	}
	return opts, nil
}

func splitList(raw string) []string {
	var out []string
	for _, chunk := range strings.Split(raw, ",") {
		if chunk = strings.TrimSpace(chunk); chunk != "" {
			out = append(out, chunk)
		}
	}
	return out
}

func run(ctx context.Context, opts replayOptions, logger *log.Entry) (replayStats, error) {
	logger.WithFields(log.Fields{
		"source_topic": opts.sourceTopic,
		"target_topic": opts.targetTopic,
		"entity":       opts.entity,
		"limit":        opts.limit,
		"execute":      opts.execute,
	}).Info("starting dlq replay")

	client, consumer, publisher, err := replayDeps(opts, logger)
	if err != nil {
		return replayStats{}, err
	}
	defer func() {
		if publisher != nil {
			_ = publisher.Close()
		}
		_ = consumer.Close()
		_ = client.Close()
	}()

	r := &replayer{opts: opts, client: client, consumer: consumer, publisher: publisher, logger: logger}
	return r.replay(ctx)
}

type replayStats struct {
	processed int
	replayed  int
	skipped   int
}

func (s *replayStats) add(other replayStats) {
	s.processed += other.processed
	s.replayed += other.replayed
	s.skipped += other.skipped
}

type replayer struct {
	opts      replayOptions
	client    offsetClient
	consumer  partitionSource
	publisher replayPublisher
	logger    *log.Entry
}

func (r *replayer) replay(ctx context.Context) (replayStats, error) {
	var total replayStats
	if r.opts.execute && r.publisher == nil {
		return total, errors.New("publisher is required in execute mode")
	}

	partitions, err := r.client.Partitions(r.opts.sourceTopic)
	if err != nil {
		return total, fmt.Errorf("list partitions of %s: %w", r.opts.sourceTopic, err)
	}
	if len(partitions) == 0 {
		r.logger.WithField("topic", r.opts.sourceTopic).Warn("dlq topic has no partitions")
		return total, nil
	}
	slices.Sort(partitions)

	for _, partition := range partitions {
		remaining := r.opts.limit - total.processed
		if remaining <= 0 {
			break
		}
		stats, err := r.replayPartition(ctx, partition, remaining)
		total.add(stats)
		if err != nil {
			return total, err
		}
	}

	mode := "dry-run"
	if r.opts.execute {
		mode = "execute"
	}
	r.logger.WithFields(log.Fields{
		"mode":      mode,
		"processed": total.processed,
		"replayed":  total.replayed,
		"skipped":   total.skipped,
	}).Info("dlq replay finished")
	return total, nil
}

func (r *replayer) replayPartition(ctx context.Context, partition int32, limit int) (replayStats, error) {
	var stats replayStats

	oldest, err := r.client.GetOffset(r.opts.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return stats, fmt.Errorf("oldest offset of partition %d: %w", partition, err)
	}
	newest, err := r.client.GetOffset(r.opts.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return stats, fmt.Errorf("newest offset of partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return stats, nil
	}

	start := oldest
	if r.opts.fromNewest {
		start = max(newest-int64(limit), oldest)
	}

	pc, err := r.consumer.ConsumePartition(r.opts.sourceTopic, partition, start)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idle := time.NewTimer(r.opts.idleTimeout)
	defer idle.Stop()

	for stats.processed < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case <-idle.C:
			return stats, nil
		case cerr := <-pc.Errors():
			if cerr != nil {
				return stats, fmt.Errorf("partition %d: %w", partition, cerr)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil || msg.Offset >= newest {
				return stats, nil
			}
			idle.Reset(r.opts.idleTimeout)

			stats.processed++
			replayed, err := r.handle(msg)
			if err != nil {
				return stats, err
			}
			if replayed {
				stats.replayed++
			} else {
				stats.skipped++
			}
			if msg.Offset+1 >= newest {
				return stats, nil
			}
		}
	}
	return stats, nil
}

// handle возвращает false для записей, которые пропущены (битые или отфильтрованные).
func (r *replayer) handle(msg *sarama.ConsumerMessage) (bool, error) {
	fields := log.Fields{"partition": msg.Partition, "offset": msg.Offset}

	letter, err := kafka.DecodeDeadLetter(msg.Value)
	if err != nil {
		r.logger.WithError(err).WithFields(fields).Warn("skip unreadable dead letter")
		return false, nil
	}
	if r.opts.entity != "" && letter.Entity != r.opts.entity {
		return false, nil
	}

	topic := letter.ReplayTopic()
	if r.opts.targetTopic != "" {
		topic = r.opts.targetTopic
	}
	fields["target_topic"] = topic
	fields["envelope_id"] = letter.EnvelopeID
	fields["attempts"] = letter.Attempts

	if !r.opts.execute {
		r.logger.WithFields(fields).Info("dlq replay candidate")
		return true, nil
	}
	if err := r.publisher.PublishRaw(topic, letter.Key, letter.Envelope, letter.ReplayHeaders()...); err != nil {
		return false, fmt.Errorf("replay envelope %s: %w", letter.EnvelopeID, err)
	}
	r.logger.WithFields(fields).Debug("dead letter replayed")
	return true, nil
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
