package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/segmentio/kafka-go"

	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/metrics"
	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/ratelimiter"
	"github.com/maxiaolu1981/cretem/ottserver/pkg/log"
)

// 重试与死信Topic按主Topic名称加后缀派生。
const (
	RetryTopicSuffix      = ".retry"
	DeadLetterTopicSuffix = ".deadletter"

	HeaderAction            = "action"
	HeaderOriginalTimestamp = "original-timestamp"
	HeaderRetryCount        = "retry-count"
	HeaderRetryError        = "retry-error"
	HeaderNextRetryTS       = "next-retry-ts"
	HeaderDeadLetterReason  = "deadletter-reason"
	HeaderDeadLetterTS      = "deadletter-timestamp"
)

// wireEvent 是审计事件在Kafka上的JSON形态。字段名与文件落地格式保持一致，
// 下游消费者和日志检索可以共用同一套字段约定。
type wireEvent struct {
	Actor        string         `json:"actor"`
	ActorID      string         `json:"actor_id,omitempty"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	Target       string         `json:"target,omitempty"`
	Outcome      string         `json:"outcome"`
	ErrorMessage string         `json:"error,omitempty"`
	RequestID    string         `json:"request_id,omitempty"`
	IP           string         `json:"ip,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	OccurredAt   time.Time      `json:"occurred_at"`
}

func toWire(event Event) wireEvent {
	return wireEvent{
		Actor:        event.Actor,
		ActorID:      event.ActorID,
		Action:       event.Action,
		ResourceType: event.ResourceType,
		ResourceID:   event.ResourceID,
		Target:       event.Target,
		Outcome:      event.Outcome,
		ErrorMessage: event.ErrorMessage,
		RequestID:    event.RequestID,
		IP:           event.IP,
		UserAgent:    event.UserAgent,
		Metadata:     event.Metadata,
		OccurredAt:   event.OccurredAt,
	}
}

func (w wireEvent) toEvent() Event {
	return Event{
		Actor:        w.Actor,
		ActorID:      w.ActorID,
		Action:       w.Action,
		ResourceType: w.ResourceType,
		ResourceID:   w.ResourceID,
		Target:       w.Target,
		Outcome:      w.Outcome,
		ErrorMessage: w.ErrorMessage,
		RequestID:    w.RequestID,
		IP:           w.IP,
		UserAgent:    w.UserAgent,
		Metadata:     w.Metadata,
		OccurredAt:   w.OccurredAt,
	}
}

// KafkaSinkConfig 控制审计事件投递到Kafka的行为。
type KafkaSinkConfig struct {
	Brokers      []string
	Topic        string
	RequiredAcks int
	Async        bool
	BatchSize    int
	BatchTimeout time.Duration
	MaxRetries   int

	// MaxRate 生产端限速上限(事件/秒), 0表示不限速
	MaxRate float64
}

// KafkaSink 把审计事件投递到Kafka主题，供独立消费者持久化到MySQL。
// 生产端走sarama：默认异步生产者，投递结果在后台成功/失败通道里统一记账；
// Async=false时退化为同步生产者，Write阻塞到broker确认为止。
// 消息按Actor做键分区，同一操作者的事件保持顺序。
// MaxRate>0时挂接动态限速器: 投递失败率升高自动降速, 恢复后缓慢回升,
// Write被限速阻塞会拖慢管理器分发循环, 进而通过Saturated()触发上游写保护。
type KafkaSink struct {
	asyncProducer sarama.AsyncProducer
	syncProducer  sarama.SyncProducer
	topic         string

	limiter  *ratelimiter.Controller
	attempts atomic.Int64
	failures atomic.Int64

	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

func NewKafkaSink(cfg KafkaSinkConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}

	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.RequiredAcks(cfg.RequiredAcks)
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = cfg.BatchTimeout
	config.Producer.Flush.MaxMessages = cfg.BatchSize
	config.Producer.Retry.Max = cfg.MaxRetries
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	s := &KafkaSink{topic: cfg.Topic}

	if cfg.MaxRate > 0 {
		minRate := cfg.MaxRate / 10
		if minRate < 1 {
			minRate = 1
		}
		// statsFunc只在控制器的调整循环里被调用, 闭包内的快照变量无并发
		var lastAttempts, lastFailures int64
		s.limiter = ratelimiter.NewController(
			cfg.MaxRate, minRate, cfg.MaxRate, 30*time.Second,
			func() (int, int) {
				a, f := s.attempts.Load(), s.failures.Load()
				da, df := a-lastAttempts, f-lastFailures
				lastAttempts, lastFailures = a, f
				return int(da), int(df)
			})
	}

	if cfg.Async {
		producer, err := sarama.NewAsyncProducer(cfg.Brokers, config)
		if err != nil {
			return nil, fmt.Errorf("create audit kafka producer: %w", err)
		}
		s.asyncProducer = producer
		s.wg.Add(2)
		go s.handleSuccesses()
		go s.handleErrors()
		return s, nil
	}

	producer, err := sarama.NewSyncProducer(cfg.Brokers, config)
	if err != nil {
		return nil, fmt.Errorf("create audit kafka producer: %w", err)
	}
	s.syncProducer = producer
	return s, nil
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Write(ctx context.Context, event Event) error {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			s.failures.Add(1)
			metrics.ProducerFailures.WithLabelValues(s.topic, event.Action, "throttle_timeout").Inc()
			return fmt.Errorf("audit producer throttled: %w", err)
		}
	}

	payload, err := json.Marshal(toWire(event))
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(event.Actor),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte(HeaderAction), Value: []byte(event.Action)},
			{Key: []byte(HeaderOriginalTimestamp), Value: []byte(event.OccurredAt.Format(time.RFC3339Nano))},
		},
		Metadata: event.Action,
	}

	s.attempts.Add(1)
	metrics.ProducerAttempts.WithLabelValues(s.topic, event.Action).Inc()

	if s.asyncProducer != nil {
		select {
		case s.asyncProducer.Input() <- msg:
			return nil
		case <-ctx.Done():
			s.failures.Add(1)
			metrics.ProducerFailures.WithLabelValues(s.topic, event.Action, "enqueue_timeout").Inc()
			return fmt.Errorf("enqueue audit message: %w", ctx.Err())
		}
	}

	if _, _, err := s.syncProducer.SendMessage(msg); err != nil {
		s.failures.Add(1)
		metrics.ProducerFailures.WithLabelValues(s.topic, event.Action, "delivery_error").Inc()
		return fmt.Errorf("send audit message: %w", err)
	}
	metrics.ProducerSuccess.WithLabelValues(s.topic, event.Action).Inc()
	return nil
}

func (s *KafkaSink) handleSuccesses() {
	defer s.wg.Done()
	for msg := range s.asyncProducer.Successes() {
		if msg == nil {
			continue
		}
		metrics.ProducerSuccess.WithLabelValues(msg.Topic, operationFromMetadata(msg)).Inc()
		log.Debugf("审计事件已投递: topic=%s partition=%d offset=%d", msg.Topic, msg.Partition, msg.Offset)
	}
}

func (s *KafkaSink) handleErrors() {
	defer s.wg.Done()
	for pErr := range s.asyncProducer.Errors() {
		if pErr == nil || pErr.Msg == nil {
			continue
		}
		s.failures.Add(1)
		metrics.ProducerFailures.WithLabelValues(pErr.Msg.Topic, operationFromMetadata(pErr.Msg), "delivery_error").Inc()
		metrics.RecordAuditDropped("kafka_delivery")
		log.Errorw("审计事件投递失败",
			"topic", pErr.Msg.Topic,
			"error", pErr.Err,
		)
	}
}

func operationFromMetadata(msg *sarama.ProducerMessage) string {
	if action, ok := msg.Metadata.(string); ok && action != "" {
		return action
	}
	return "unknown"
}

// Close 通知生产者排空在途消息并等待结果通道关闭。
func (s *KafkaSink) Close() error {
	s.closeOnce.Do(func() {
		if s.limiter != nil {
			s.limiter.Stop()
		}
		if s.asyncProducer != nil {
			s.asyncProducer.AsyncClose()
			s.wg.Wait()
		}
		if s.syncProducer != nil {
			s.closeErr = s.syncProducer.Close()
		}
	})
	return s.closeErr
}

// EnsureTopics 在启动阶段创建审计主题及其重试/死信主题。
// Kafka已存在同名主题时返回成功，集群不可达时返回错误由调用方决定降级。
func EnsureTopics(brokers []string, topic string, partitions int, timeout time.Duration) error {
	if len(brokers) == 0 {
		return fmt.Errorf("no kafka brokers configured")
	}
	if partitions <= 0 {
		partitions = 1
	}

	dialer := &kafka.Dialer{Timeout: timeout}
	conn, err := dialer.Dial("tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("dial kafka broker %s: %w", brokers[0], err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("resolve kafka controller: %w", err)
	}
	controllerConn, err := dialer.Dial("tcp",
		net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("dial kafka controller: %w", err)
	}
	defer controllerConn.Close()

	configs := make([]kafka.TopicConfig, 0, 3)
	for _, name := range []string{topic, topic + RetryTopicSuffix, topic + DeadLetterTopicSuffix} {
		configs = append(configs, kafka.TopicConfig{
			Topic:             name,
			NumPartitions:     partitions,
			ReplicationFactor: 1,
		})
	}

	if err := controllerConn.CreateTopics(configs...); err != nil {
		return fmt.Errorf("create audit topics: %w", err)
	}
	log.Infof("✅ 审计主题就绪: %s (分区数=%d)", topic, partitions)
	return nil
}
