package options

import (
	"time"

	"github.com/spf13/pflag"
)

const (
	defaultAuditBuffer  = 512
	defaultAuditDrain   = 5 * time.Second
	defaultAuditLogFile = "log/audit.log"
)

// AuditOptions 决定审计事件的产生与去向。令牌签发/消费和用户管理
// 都是认证敏感操作, 默认开启; kafka投递默认关, 需要集中审计时再打开。
type AuditOptions struct {
	Enabled         bool          `json:"enabled" mapstructure:"enabled"`
	BufferSize      int           `json:"bufferSize" mapstructure:"bufferSize"`
	ShutdownTimeout time.Duration `json:"shutdownTimeout" mapstructure:"shutdownTimeout"`
	LogFile         string        `json:"logFile" mapstructure:"logFile"`
	EnableMetrics   bool          `json:"enableMetrics" mapstructure:"enableMetrics"`
	EnableKafka     bool          `json:"enableKafka" mapstructure:"enableKafka"`
}

func NewAuditOptions() *AuditOptions {
	return &AuditOptions{
		Enabled:         true,
		BufferSize:      defaultAuditBuffer,
		ShutdownTimeout: defaultAuditDrain,
		LogFile:         defaultAuditLogFile,
		EnableMetrics:   true,
		EnableKafka:     false,
	}
}

// Complete 把零值参数拉回默认, 保证审计管道可用。
func (o *AuditOptions) Complete() {
	if o.BufferSize <= 0 {
		o.BufferSize = defaultAuditBuffer
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = defaultAuditDrain
	}
	if o.LogFile == "" {
		o.LogFile = defaultAuditLogFile
	}
}

func (o *AuditOptions) Validate() []error {
	return nil
}

func (o *AuditOptions) AddFlags(fs *pflag.FlagSet) {
	fs.BoolVar(&o.Enabled, "audit.enabled", o.Enabled,
		"记录认证与用户管理操作的审计事件。")
	fs.IntVar(&o.BufferSize, "audit.buffer-size", o.BufferSize,
		"审计事件异步队列容量, 队列满时丢弃新事件并计数。")
	fs.DurationVar(&o.ShutdownTimeout, "audit.shutdown-timeout", o.ShutdownTimeout,
		"停机时等待队列中剩余审计事件写完的最长时间。")
	fs.StringVar(&o.LogFile, "audit.log-file", o.LogFile,
		"审计事件的JSON Lines落盘路径。")
	fs.BoolVar(&o.EnableMetrics, "audit.enable-metrics", o.EnableMetrics,
		"把审计事件计入Prometheus指标。")
	fs.BoolVar(&o.EnableKafka, "audit.enable-kafka", o.EnableKafka,
		"把审计事件投递到kafka审计主题, 供下游消费归档。")
}
