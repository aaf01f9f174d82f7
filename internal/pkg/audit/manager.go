// Package audit 收集业务关键操作的审计事件, 在进程内异步分发给若干落地端(日志/指标/文件/kafka),
// 并保留一圈最近事件供运维接口直接查询。提交方永不阻塞: 缓冲写满时丢弃并计数。
package audit

import (
	"context"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/metrics"
	"github.com/maxiaolu1981/cretem/ottserver/pkg/log"
)

const (
	defaultBufferSize      = 256
	defaultRecentBuffer    = 256
	defaultShutdownTimeout = 5 * time.Second
)

// Event 是一条审计记录。字段全部可选, 但没有Actor/Action/Outcome的事件基本没法排查。
// Metadata 放业务自定义内容, 比如请求参数摘要。注意提交后Manager持有副本, 调用方可以继续改原值。
type Event struct {
	Actor        string         // 操作主体, 用户名或服务名
	ActorID      string         // 主体ID
	Action       string         // 动作, 如 token.generate、auth.login
	ResourceType string         // 资源类型
	ResourceID   string         // 资源ID
	Target       string         // 动作作用的目标, 不一定等于ResourceID
	Outcome      string         // success / fail / deny
	ErrorMessage string         // 失败原因, 写之前先脱敏
	RequestID    string         // 串联同一次请求的日志
	IP           string         // 来源IP
	UserAgent    string         // 客户端UA
	Metadata     map[string]any // 业务扩展字段
	OccurredAt   time.Time      // 为零时Submit自动补当前时间
}

// Clone 复制事件。只有Metadata需要深拷贝, 其余字段按值复制即可。
func (e Event) Clone() Event {
	if e.Metadata == nil {
		return e
	}
	meta := make(map[string]any, len(e.Metadata))
	for k, v := range e.Metadata {
		meta[k] = v
	}
	e.Metadata = meta
	return e
}

// Config 控制审计管线的行为。Enabled为false时NewManager返回的实例所有方法都是空操作。
type Config struct {
	Enabled         bool
	BufferSize      int           // 异步缓冲容量, 默认256
	ShutdownTimeout time.Duration // Shutdown兜底等待, 默认5s
	LogFile         string        // 非空时追加一个FileSink
	Sinks           []Sink        // 显式落地端, 为空时兜底LogSink
	EnableMetrics   bool          // 追加MetricsSink
	RecentBuffer    int           // 最近事件环容量, 默认256
}

// Manager 是审计事件的汇聚点: Submit进, 后台goroutine出。
// 最近事件环在Submit路径上同步写, 即便异步缓冲满了丢弃, 运维接口仍能看到这条事件。
type Manager struct {
	cfg   Config
	sinks []Sink
	queue chan Event

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	wg        sync.WaitGroup

	stopMu  sync.RWMutex
	stopped bool // 置位后queue已关闭, Submit不得再写

	ringMu   sync.RWMutex
	ring     []Event
	ringNext int // 下一个写入槽位
	ringLen  int // 已填充数量, 最大len(ring)
}

func NewManager(cfg Config) (*Manager, error) {
	if !cfg.Enabled {
		return &Manager{cfg: cfg}, nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.RecentBuffer <= 0 {
		cfg.RecentBuffer = defaultRecentBuffer
	}

	sinks, err := assembleSinks(cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:    cfg,
		sinks:  sinks,
		queue:  make(chan Event, cfg.BufferSize),
		ctx:    ctx,
		cancel: cancel,
		ring:   make([]Event, cfg.RecentBuffer),
	}
	m.wg.Add(1)
	go m.run()
	return m, nil
}

// Submit 提交一条事件, 永不阻塞调用方: 缓冲满时丢弃并记RecordAuditDropped。
func (m *Manager) Submit(ctx context.Context, event Event) {
	if m == nil || !m.cfg.Enabled {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	owned := event.Clone()
	m.remember(owned)

	// 读锁挡住Shutdown的close(queue), 已关停时直接丢弃, 不会写进已关闭的通道
	m.stopMu.RLock()
	defer m.stopMu.RUnlock()
	if m.stopped {
		metrics.RecordAuditDropped("shutdown")
		return
	}

	select {
	case m.queue <- owned:
	default:
		metrics.RecordAuditDropped("buffer_full")
		log.Warnw("audit buffer full, dropping event",
			"action", event.Action,
			"actor", event.Actor,
		)
	}
}

// Shutdown 关闭队列并等到后台goroutine清空为止, ctx先到期则放弃等待。只会执行一次。
func (m *Manager) Shutdown(ctx context.Context) error {
	if m == nil || !m.cfg.Enabled {
		return nil
	}
	var err error
	m.closeOnce.Do(func() {
		m.cancel()

		m.stopMu.Lock()
		m.stopped = true
		close(m.queue)
		m.stopMu.Unlock()
		drained := make(chan struct{})
		go func() {
			m.wg.Wait()
			close(drained)
		}()
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-drained:
		}

		// 带缓冲的sink(kafka等)要显式Close才会把批量残留刷出去
		for _, sink := range m.sinks {
			if closer, ok := sink.(io.Closer); ok {
				if cerr := closer.Close(); cerr != nil {
					log.Warnw("audit sink close failed",
						"sink", sink.Name(),
						"error", cerr,
					)
				}
			}
		}
	})
	return err
}

// run 消费队列直到关闭。收到取消信号后切换成纯排空模式, 把已入队的事件写完再退。
func (m *Manager) run() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			for event := range m.queue {
				m.fanOut(event)
			}
			return
		case event, ok := <-m.queue:
			if !ok {
				return
			}
			m.fanOut(event)
		}
	}
}

// fanOut 把事件写给每个sink。单个sink失败不影响其他sink, 只计数并告警。
func (m *Manager) fanOut(event Event) {
	for _, sink := range m.sinks {
		if err := sink.Write(m.ctx, event); err != nil {
			metrics.RecordAuditDropped("sink_" + sink.Name())
			log.Warnw("audit sink write failed",
				"sink", sink.Name(),
				"error", err,
				"action", event.Action,
			)
		}
	}
}

// remember 把事件写进最近事件环, 满了覆盖最旧的一条。
func (m *Manager) remember(event Event) {
	m.ringMu.Lock()
	defer m.ringMu.Unlock()
	m.ring[m.ringNext] = event
	m.ringNext = (m.ringNext + 1) % len(m.ring)
	if m.ringLen < len(m.ring) {
		m.ringLen++
	}
}

// Recent 返回最近的limit条事件, 最新的排在前面。
func (m *Manager) Recent(limit int) []Event {
	if m == nil || !m.cfg.Enabled || limit <= 0 {
		return nil
	}
	m.ringMu.RLock()
	defer m.ringMu.RUnlock()
	if m.ringLen == 0 {
		return nil
	}
	if limit > m.ringLen {
		limit = m.ringLen
	}
	out := make([]Event, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (m.ringNext - i + 2*len(m.ring)) % len(m.ring)
		out = append(out, m.ring[idx])
	}
	return out
}

// Enabled 报告审计是否开启。nil接收者视为关闭。
func (m *Manager) Enabled() bool {
	return m != nil && m.cfg.Enabled
}

// Saturated 报告异步缓冲是否已达九成, 写限流中间件据此对写请求做背压。
func (m *Manager) Saturated() bool {
	if m == nil || !m.cfg.Enabled || m.queue == nil {
		return false
	}
	capacity := cap(m.queue)
	if capacity == 0 {
		return false
	}
	return len(m.queue)*10 >= capacity*9
}

// BuildEventFromRequest 从HTTP请求提取事件骨架: 请求ID、UA、来源IP和method/path元数据。
// 网关透传的X-Forwarded-User*头若存在则作为初始主体。
func BuildEventFromRequest(req *http.Request) Event {
	if req == nil {
		return Event{}
	}
	event := Event{
		RequestID: req.Header.Get("X-Request-Id"),
		UserAgent: req.UserAgent(),
		Metadata:  map[string]any{"method": req.Method, "path": req.URL.Path},
	}
	if host, _, err := net.SplitHostPort(req.RemoteAddr); err == nil {
		event.IP = host
	} else {
		event.IP = req.RemoteAddr
	}
	if actor := req.Header.Get("X-Forwarded-User"); actor != "" {
		event.Actor = actor
	}
	if actorID := req.Header.Get("X-Forwarded-User-Id"); actorID != "" {
		event.ActorID = actorID
	}
	return event
}
