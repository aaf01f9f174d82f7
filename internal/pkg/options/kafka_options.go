package options

import (
	"os"
	"strings"
	"time"

	"github.com/maxiaolu1981/cretem/nexuscore/component-base/validation/field"
	"github.com/maxiaolu1981/cretem/ottserver/pkg/log"
	"github.com/spf13/pflag"
)

// KafkaOptions 是审计事件管道的Kafka配置, 生产端与消费端共用一份。
// 环境变量 KAFKA_BROKERS / KAFKA_TOPIC / KAFKA_CONSUMER_GROUP / KAFKA_INSTANCE_ID
// 优先级高于配置文件与命令行, 方便容器环境注入。
type KafkaOptions struct {
	Brokers       []string `json:"brokers"       mapstructure:"brokers"       validate:"min=1"`
	Topic         string   `json:"topic"         mapstructure:"topic"         validate:"nonzero"`
	ConsumerGroup string   `json:"consumerGroup" mapstructure:"consumerGroup" validate:"nonzero"`

	// RequiredAcks: -1所有副本确认 / 0不等确认 / 1仅leader确认
	RequiredAcks int  `json:"requiredAcks" mapstructure:"requiredAcks" validate:"min=-1,max=1"`
	Async        bool `json:"async"        mapstructure:"async"`

	BatchSize    int           `json:"batchSize"    mapstructure:"batchSize"    validate:"min=1"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout" validate:"min=1ms"`
	MaxRetries   int           `json:"maxRetries"   mapstructure:"maxRetries"   validate:"min=0"`

	// ProducerMaxRate 生产端限速上限(事件/秒), 0不限速。运行时速率随失败率自适应下调。
	ProducerMaxRate float64 `json:"producerMaxRate" mapstructure:"producerMaxRate"`

	MinBytes    int `json:"minBytes"    mapstructure:"minBytes"    validate:"min=1"`
	MaxBytes    int `json:"maxBytes"    mapstructure:"maxBytes"    validate:"min=1024"`
	WorkerCount int `json:"workerCount" mapstructure:"workerCount" validate:"min=1"`

	EnableSSL   bool   `json:"enableSSL"   mapstructure:"enableSSL"`
	SSLCertFile string `json:"sslCertFile" mapstructure:"sslCertFile"`

	AutoCreateTopic   bool `json:"autoCreateTopic"   mapstructure:"autoCreateTopic"`
	DesiredPartitions int  `json:"desiredPartitions" mapstructure:"desiredPartitions" validate:"min=1"`

	// InstanceID 标识消费者实例, 空值在Complete里用主机名兜底。
	InstanceID string `json:"instanceID" mapstructure:"instanceID"`
}

func NewKafkaOptions() *KafkaOptions {
	return &KafkaOptions{
		Brokers:           []string{"localhost:9092"},
		Topic:             "ott.token.v1",
		ConsumerGroup:     "ott-audit-consumer",
		RequiredAcks:      -1,
		Async:             true,
		BatchSize:         100,
		BatchTimeout:      100 * time.Millisecond,
		MaxRetries:        4,
		ProducerMaxRate:   500,
		MinBytes:          10 * 1024,
		MaxBytes:          10 * 1024 * 1024,
		WorkerCount:       4,
		AutoCreateTopic:   true,
		DesiredPartitions: 8,
	}
}

// Complete 合并环境变量、填充兜底值。调用后配置可直接用。
func (k *KafkaOptions) Complete() {
	if env := os.Getenv("KAFKA_BROKERS"); env != "" {
		k.Brokers = splitBrokers(env)
	}
	if env := os.Getenv("KAFKA_TOPIC"); env != "" {
		k.Topic = env
	}
	if env := os.Getenv("KAFKA_CONSUMER_GROUP"); env != "" {
		k.ConsumerGroup = env
	}
	if env := os.Getenv("KAFKA_INSTANCE_ID"); env != "" {
		k.InstanceID = env
	}
	if k.InstanceID == "" {
		if host, err := os.Hostname(); err == nil {
			k.InstanceID = host
		}
	}

	if len(k.Brokers) == 0 {
		k.Brokers = []string{"localhost:9092"}
	}
	if k.BatchSize <= 0 {
		k.BatchSize = 100
	}
	if k.BatchTimeout <= 0 {
		k.BatchTimeout = 100 * time.Millisecond
	}
	if k.WorkerCount <= 0 {
		k.WorkerCount = 4
	}
	if k.MinBytes <= 0 {
		k.MinBytes = 10 * 1024
	}
	if k.MaxBytes <= 0 {
		k.MaxBytes = 10 * 1024 * 1024
	}
	if k.DesiredPartitions <= 0 {
		k.DesiredPartitions = 8
	}
	if k.ProducerMaxRate < 0 {
		k.ProducerMaxRate = 0
	}

	if k.WorkerCount > k.DesiredPartitions {
		log.Warnf("kafka worker数(%d)超过分区数(%d), 超出的worker拿不到分区",
			k.WorkerCount, k.DesiredPartitions)
	}
}

func (k *KafkaOptions) Validate() []error {
	var errs []error

	if len(k.Brokers) == 0 {
		errs = append(errs, field.Required(field.NewPath("kafka", "brokers"), "至少需要一个broker地址"))
	}
	for i, broker := range k.Brokers {
		if broker == "" {
			errs = append(errs, field.Required(field.NewPath("kafka", "brokers").Index(i), "broker地址为空"))
		}
	}

	if k.Topic == "" {
		errs = append(errs, field.Required(field.NewPath("kafka", "topic"), "topic不能为空"))
	} else if len(k.Topic) > 255 {
		errs = append(errs, field.TooLong(field.NewPath("kafka", "topic"), k.Topic, 255))
	}

	if k.ConsumerGroup == "" {
		errs = append(errs, field.Required(field.NewPath("kafka", "consumerGroup"), "消费者组ID不能为空"))
	}
	if k.RequiredAcks < -1 || k.RequiredAcks > 1 {
		errs = append(errs, field.Invalid(field.NewPath("kafka", "requiredAcks"), k.RequiredAcks, "只能是-1、0或1"))
	}
	if k.BatchSize < 1 {
		errs = append(errs, field.Invalid(field.NewPath("kafka", "batchSize"), k.BatchSize, "批大小至少为1"))
	}
	if k.BatchTimeout < time.Millisecond {
		errs = append(errs, field.Invalid(field.NewPath("kafka", "batchTimeout"), k.BatchTimeout, "不能小于1ms"))
	}
	if k.WorkerCount < 1 {
		errs = append(errs, field.Invalid(field.NewPath("kafka", "workerCount"), k.WorkerCount, "worker数至少为1"))
	}
	if k.DesiredPartitions < 1 {
		errs = append(errs, field.Invalid(field.NewPath("kafka", "partitions"), k.DesiredPartitions, "必须大于0"))
	}

	if k.EnableSSL && k.SSLCertFile != "" {
		if _, err := os.Stat(k.SSLCertFile); os.IsNotExist(err) {
			errs = append(errs, field.Invalid(field.NewPath("kafka", "sslCertFile"), k.SSLCertFile, "证书文件不存在"))
		}
	}

	return errs
}

func (k *KafkaOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringSliceVar(&k.Brokers, "kafka.brokers", k.Brokers,
		"Kafka broker地址列表, 逗号分隔。环境变量KAFKA_BROKERS优先")
	fs.StringVar(&k.Topic, "kafka.topic", k.Topic,
		"审计事件topic。环境变量KAFKA_TOPIC优先")
	fs.StringVar(&k.ConsumerGroup, "kafka.consumer-group", k.ConsumerGroup,
		"消费者组ID。环境变量KAFKA_CONSUMER_GROUP优先")
	fs.IntVar(&k.RequiredAcks, "kafka.required-acks", k.RequiredAcks,
		"消息确认级别: -1全部副本/0不等待/1仅leader")
	fs.BoolVar(&k.Async, "kafka.async", k.Async,
		"生产者是否用异步模式")
	fs.IntVar(&k.BatchSize, "kafka.batch-size", k.BatchSize,
		"生产者批量条数")
	fs.DurationVar(&k.BatchTimeout, "kafka.batch-timeout", k.BatchTimeout,
		"生产者攒批超时")
	fs.IntVar(&k.MaxRetries, "kafka.max-retries", k.MaxRetries,
		"消费失败进死信前的最大重试次数")
	fs.Float64Var(&k.ProducerMaxRate, "kafka.producer-max-rate", k.ProducerMaxRate,
		"审计生产端限速上限(事件/秒), 0不限速")
	fs.IntVar(&k.MinBytes, "kafka.min-bytes", k.MinBytes,
		"消费者单次拉取最小字节数")
	fs.IntVar(&k.MaxBytes, "kafka.max-bytes", k.MaxBytes,
		"消费者单次拉取最大字节数")
	fs.IntVar(&k.WorkerCount, "kafka.worker-count", k.WorkerCount,
		"并行消费的worker个数, 超过分区数时会被压回")
	fs.BoolVar(&k.EnableSSL, "kafka.enable-ssl", k.EnableSSL,
		"与kafka之间启用SSL")
	fs.StringVar(&k.SSLCertFile, "kafka.ssl-cert-file", k.SSLCertFile,
		"SSL证书文件")
	fs.BoolVar(&k.AutoCreateTopic, "kafka.auto-create-topic", k.AutoCreateTopic,
		"启动时自动创建topic及配套的重试/死信topic")
	fs.IntVar(&k.DesiredPartitions, "kafka.partitions", k.DesiredPartitions,
		"自动建topic时的分区数")
	fs.StringVar(&k.InstanceID, "kafka.instance-id", k.InstanceID,
		"消费者实例唯一ID, 建议hostname或pod name。环境变量KAFKA_INSTANCE_ID优先")
}

// splitBrokers 解析逗号分隔的broker列表, 丢掉空段。
func splitBrokers(raw string) []string {
	parts := strings.Split(raw, ",")
	brokers := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			brokers = append(brokers, p)
		}
	}
	return brokers
}
