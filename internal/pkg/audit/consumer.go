package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/buger/jsonparser"
	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/metrics"
	"github.com/maxiaolu1981/cretem/ottserver/pkg/log"
	"github.com/segmentio/kafka-go"
	"gorm.io/gorm"
)

const retryBaseDelay = 10 * time.Second

// ConsumerConfig 控制审计消费者的读取与重试行为。
type ConsumerConfig struct {
	Brokers     []string
	Topic       string
	GroupID     string
	MinBytes    int
	MaxBytes    int
	WorkerCount int
	MaxRetries  int
}

// Consumer 消费审计主题并把事件持久化到MySQL。
// 入库失败的消息进入重试主题按指数退避重投，重试耗尽后落死信主题。
type Consumer struct {
	cfg ConsumerConfig
	db  *gorm.DB

	mainReader  *kafka.Reader
	retryReader *kafka.Reader
	retryWriter *kafka.Writer
	dlqWriter   *kafka.Writer

	closeOnce sync.Once
}

func NewConsumer(cfg ConsumerConfig, db *gorm.DB) *Consumer {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 2
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 4
	}
	if cfg.MinBytes <= 0 {
		cfg.MinBytes = 10e3
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 10e6
	}

	newReader := func(topic string) *kafka.Reader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:        cfg.Brokers,
			Topic:          topic,
			GroupID:        cfg.GroupID,
			MinBytes:       cfg.MinBytes,
			MaxBytes:       cfg.MaxBytes,
			CommitInterval: time.Second,
			StartOffset:    kafka.FirstOffset,
		})
	}
	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			MaxAttempts:  3,
		}
	}

	return &Consumer{
		cfg:         cfg,
		db:          db,
		mainReader:  newReader(cfg.Topic),
		retryReader: newReader(cfg.Topic + RetryTopicSuffix),
		retryWriter: newWriter(cfg.Topic + RetryTopicSuffix),
		dlqWriter:   newWriter(cfg.Topic + DeadLetterTopicSuffix),
	}
}

// Start 启动主消费worker和重试worker，阻塞直至ctx取消。
func (c *Consumer) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < c.cfg.WorkerCount; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			c.runWorker(ctx, c.mainReader, workerID, c.processMessage)
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.runWorker(ctx, c.retryReader, 0, c.processRetryMessage)
	}()
	wg.Wait()
}

func (c *Consumer) Close() error {
	var err error
	c.closeOnce.Do(func() {
		for _, closer := range []interface{ Close() error }{
			c.mainReader, c.retryReader, c.retryWriter, c.dlqWriter,
		} {
			if cerr := closer.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	})
	return err
}

func (c *Consumer) runWorker(ctx context.Context, reader *kafka.Reader,
	workerID int, handle func(context.Context, kafka.Message) error) {
	topic := reader.Config().Topic
	log.Infof("启动审计消费worker %d, topic=%s", workerID, topic)

	for {
		select {
		case <-ctx.Done():
			log.Infof("审计消费worker %d 停止, topic=%s", workerID, topic)
			return
		default:
			msg, err := reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Errorf("审计worker %d 拉取消息失败: %v", workerID, err)
				continue
			}

			if err := handle(ctx, msg); err != nil {
				log.Errorf("审计worker %d 处理消息失败: %v", workerID, err)
				continue
			}

			if err := reader.CommitMessages(ctx, msg); err != nil {
				log.Errorf("审计worker %d 提交偏移量失败: %v", workerID, err)
			}
		}
	}
}

// processMessage 持久化一条审计事件。消息体损坏属于毒消息直接进死信，
// 数据库错误可恢复，转入重试主题。
func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message) error {
	start := time.Now()
	// 先窥探action字段做合法性分流, 避免为毒消息做完整反序列化
	action, err := jsonparser.GetString(msg.Value, "action")
	if err != nil || action == "" {
		metrics.ConsumerProcessingErrors.WithLabelValues(
			c.cfg.Topic, c.cfg.GroupID, "unknown", "missing_action").Inc()
		return c.sendToDeadLetter(ctx, msg, "MISSING_ACTION")
	}
	metrics.ConsumerMessagesReceived.WithLabelValues(c.cfg.Topic, c.cfg.GroupID, action).Inc()

	var wire wireEvent
	if err := json.Unmarshal(msg.Value, &wire); err != nil {
		metrics.ConsumerProcessingErrors.WithLabelValues(
			c.cfg.Topic, c.cfg.GroupID, action, "unmarshal_error").Inc()
		return c.sendToDeadLetter(ctx, msg, "UNMARSHAL_ERROR: "+err.Error())
	}

	if err := c.insertRecord(ctx, wire.toEvent()); err != nil {
		metrics.ConsumerProcessingErrors.WithLabelValues(
			c.cfg.Topic, c.cfg.GroupID, action, "db_error").Inc()
		return c.sendToRetry(ctx, msg, 0, err.Error())
	}

	metrics.ConsumerMessagesProcessed.WithLabelValues(c.cfg.Topic, c.cfg.GroupID, action).Inc()
	metrics.ConsumerProcessingTime.WithLabelValues(
		c.cfg.Topic, c.cfg.GroupID, action, "success").Observe(time.Since(start).Seconds())
	return nil
}

// processRetryMessage 处理重试主题的消息: 未到重试时间先等待,
// 超过最大次数进死信, 再次失败按指数退避重新投递。
func (c *Consumer) processRetryMessage(ctx context.Context, msg kafka.Message) error {
	var wire wireEvent
	if err := json.Unmarshal(msg.Value, &wire); err != nil {
		return c.sendToDeadLetter(ctx, msg, "POISON_MESSAGE_IN_RETRY: "+err.Error())
	}

	var (
		retryCount    int
		nextRetryTime time.Time
		lastError     string
	)
	for _, header := range msg.Headers {
		switch header.Key {
		case HeaderRetryCount:
			if count, err := strconv.Atoi(string(header.Value)); err == nil {
				retryCount = count
			}
		case HeaderNextRetryTS:
			if t, err := time.Parse(time.RFC3339, string(header.Value)); err == nil {
				nextRetryTime = t
			}
		case HeaderRetryError:
			lastError = string(header.Value)
		}
	}

	if retryCount >= c.cfg.MaxRetries {
		log.Warnf("审计消息达到最大重试次数(%d), 进入死信. action=%s, 最后错误: %s",
			c.cfg.MaxRetries, wire.Action, lastError)
		return c.sendToDeadLetter(ctx, msg,
			fmt.Sprintf("MAX_RETRIES_EXCEEDED(%d): %s", c.cfg.MaxRetries, lastError))
	}

	if now := time.Now(); now.Before(nextRetryTime) {
		select {
		case <-time.After(time.Until(nextRetryTime)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := c.insertRecord(ctx, wire.toEvent()); err != nil {
		log.Errorf("审计第%d次重试失败: action=%s, error=%v", retryCount+1, wire.Action, err)
		return c.sendToRetry(ctx, msg, retryCount+1, err.Error())
	}

	log.Infof("审计第%d次重试成功: action=%s", retryCount+1, wire.Action)
	return nil
}

func (c *Consumer) insertRecord(ctx context.Context, event Event) error {
	record := toRecord(event)
	record.CreatedAt = time.Now()
	if err := c.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

func (c *Consumer) sendToRetry(ctx context.Context, msg kafka.Message, retryCount int, errorInfo string) error {
	now := time.Now()
	nextRetry := now.Add(time.Duration(1<<retryCount) * retryBaseDelay)

	headers := []kafka.Header{
		{Key: HeaderRetryCount, Value: []byte(strconv.Itoa(retryCount))},
		{Key: HeaderNextRetryTS, Value: []byte(nextRetry.Format(time.RFC3339))},
		{Key: HeaderRetryError, Value: []byte(errorInfo)},
	}
	for _, header := range msg.Headers {
		if header.Key == HeaderOriginalTimestamp || header.Key == HeaderAction {
			headers = append(headers, header)
		}
	}

	retryMsg := kafka.Message{Key: msg.Key, Value: msg.Value, Headers: headers, Time: now}
	if err := c.retryWriter.WriteMessages(ctx, retryMsg); err != nil {
		metrics.RecordAuditDropped("retry_publish_failed")
		return fmt.Errorf("publish to retry topic: %w", err)
	}
	metrics.ConsumerRetryMessages.WithLabelValues(
		c.cfg.Topic, c.cfg.GroupID, headerValue(msg.Headers, HeaderAction), "db_error").Inc()
	return nil
}

func (c *Consumer) sendToDeadLetter(ctx context.Context, msg kafka.Message, reason string) error {
	now := time.Now()
	headers := append(msg.Headers,
		kafka.Header{Key: HeaderDeadLetterReason, Value: []byte(reason)},
		kafka.Header{Key: HeaderDeadLetterTS, Value: []byte(now.Format(time.RFC3339))},
	)

	dlqMsg := kafka.Message{Key: msg.Key, Value: msg.Value, Headers: headers, Time: now}
	if err := c.dlqWriter.WriteMessages(ctx, dlqMsg); err != nil {
		metrics.RecordAuditDropped("dlq_publish_failed")
		return fmt.Errorf("publish to dead letter topic: %w", err)
	}
	metrics.ConsumerDeadLetterMessages.WithLabelValues(
		c.cfg.Topic, c.cfg.GroupID, headerValue(msg.Headers, HeaderAction), reasonCode(reason)).Inc()
	log.Warnf("审计消息进入死信队列: reason=%s", reason)
	return nil
}

func headerValue(headers []kafka.Header, key string) string {
	for _, header := range headers {
		if header.Key == key {
			return string(header.Value)
		}
	}
	return "unknown"
}

// reasonCode 截取冒号前缀作为指标标签, 明细留在消息Header里。
func reasonCode(reason string) string {
	for i := 0; i < len(reason); i++ {
		if reason[i] == ':' || reason[i] == '(' {
			return reason[:i]
		}
	}
	return reason
}
