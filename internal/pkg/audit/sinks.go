package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/metrics"
	"github.com/maxiaolu1981/cretem/ottserver/pkg/log"
)

// Sink 是审计事件的落地端。Write失败只计数告警, 不回传给提交方。
type Sink interface {
	Name() string
	Write(context.Context, Event) error
}

// SinkFunc 用函数适配Sink接口, 测试和小型定制场景用。
type SinkFunc struct {
	SinkName string
	Fn       func(context.Context, Event) error
}

func (s SinkFunc) Name() string { return s.SinkName }

func (s SinkFunc) Write(ctx context.Context, event Event) error {
	if s.Fn == nil {
		return nil
	}
	return s.Fn(ctx, event)
}

// LogSink 把事件逐条写进结构化日志, 是没有任何显式sink时的兜底。
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Write(_ context.Context, event Event) error {
	log.Infow("audit event", event.fields()...)
	return nil
}

// MetricsSink 只做计数, 事件本体不落地。
type MetricsSink struct{}

func (MetricsSink) Name() string { return "metrics" }

func (MetricsSink) Write(_ context.Context, event Event) error {
	metrics.RecordAuditEvent(event.Action, event.ResourceType, event.Outcome)
	if event.Outcome != "success" {
		metrics.RecordAuditFailure(event.Action, event.ResourceType)
	}
	return nil
}

// FileSink 以JSON Lines追加写文件。每次Write重新打开文件,
// 外部做日志轮转时不需要通知进程。
type FileSink struct {
	path string
	mu   sync.Mutex
}

func NewFileSink(path string) (*FileSink, error) {
	if path == "" {
		return nil, errors.New("file sink path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit log dir: %w", err)
	}
	return &FileSink{path: path}, nil
}

func (f *FileSink) Name() string { return "file" }

func (f *FileSink) Write(_ context.Context, event Event) error {
	line, err := json.Marshal(event.jsonMap())
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	file, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log file: %w", err)
	}
	defer file.Close()
	if _, err := file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}

// assembleSinks 按配置拼出最终sink列表: 去掉nil与重名,
// 保证至少有LogSink兜底, 再按开关补上指标与文件落地。
func assembleSinks(cfg Config) ([]Sink, error) {
	seen := make(map[string]struct{}, len(cfg.Sinks)+2)
	out := make([]Sink, 0, len(cfg.Sinks)+2)
	add := func(s Sink) {
		if s == nil {
			return
		}
		if _, dup := seen[s.Name()]; dup {
			return
		}
		seen[s.Name()] = struct{}{}
		out = append(out, s)
	}

	for _, s := range cfg.Sinks {
		add(s)
	}
	if len(out) == 0 {
		add(LogSink{})
	}
	if cfg.EnableMetrics {
		add(MetricsSink{})
	}
	if cfg.LogFile != "" {
		fileSink, err := NewFileSink(cfg.LogFile)
		if err != nil {
			return nil, err
		}
		add(fileSink)
	}
	return out, nil
}

// fields 展开成log.Infow需要的交替键值对。
func (e Event) fields() []any {
	kv := []any{
		"actor", e.Actor,
		"actor_id", e.ActorID,
		"action", e.Action,
		"resource_type", e.ResourceType,
		"resource_id", e.ResourceID,
		"target", e.Target,
		"outcome", e.Outcome,
		"error", e.ErrorMessage,
		"request_id", e.RequestID,
		"ip", e.IP,
		"user_agent", e.UserAgent,
		"occurred_at", e.OccurredAt.Format(time.RFC3339Nano),
	}
	if len(e.Metadata) > 0 {
		kv = append(kv, "metadata", e.Metadata)
	}
	return kv
}

// jsonMap 是FileSink的序列化形态, 字段名与kafka wire格式保持一致。
func (e Event) jsonMap() map[string]any {
	m := map[string]any{
		"actor":         e.Actor,
		"actor_id":      e.ActorID,
		"action":        e.Action,
		"resource_type": e.ResourceType,
		"resource_id":   e.ResourceID,
		"target":        e.Target,
		"outcome":       e.Outcome,
		"error":         e.ErrorMessage,
		"request_id":    e.RequestID,
		"ip":            e.IP,
		"user_agent":    e.UserAgent,
		"occurred_at":   e.OccurredAt.Format(time.RFC3339Nano),
	}
	if len(e.Metadata) > 0 {
		m["metadata"] = e.Metadata
	}
	return m
}
