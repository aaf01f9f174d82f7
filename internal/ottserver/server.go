/*
server.go 组装 ott-apiserver:

createAPIServer  优雅停机框架 + 通用HTTP服务器
PrepareRun       redis连接 → 存储工厂 → 业务服务 → 审计管道 → 路由 → 后台任务
Run              启动信号监听与HTTP服务

存储后端按 token.store 选择: mysql(令牌落库, 用户同库), redis(令牌进
redis, 用户走mysql), memory(全内存, 开发/测试)。后台任务包括布隆过滤器
预热、mysql模式下带分布式锁的过期令牌清扫、redis健康监控。
*/
package ottserver

import (
	"context"
	"sync"
	"time"

	ginjwt "github.com/appleboy/gin-jwt/v2"
	"github.com/bits-and-blooms/bloom/v3"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/maxiaolu1981/cretem/nexuscore/errors"

	"github.com/maxiaolu1981/cretem/ottserver/internal/ottserver/config"
	"github.com/maxiaolu1981/cretem/ottserver/internal/ottserver/handler"
	srvv1 "github.com/maxiaolu1981/cretem/ottserver/internal/ottserver/service/v1"
	"github.com/maxiaolu1981/cretem/ottserver/internal/ottserver/store/interfaces"
	"github.com/maxiaolu1981/cretem/ottserver/internal/ottserver/store/memory"
	"github.com/maxiaolu1981/cretem/ottserver/internal/ottserver/store/mysql"
	storeredis "github.com/maxiaolu1981/cretem/ottserver/internal/ottserver/store/redis"
	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/audit"
	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/metrics"
	genericoptions "github.com/maxiaolu1981/cretem/ottserver/internal/pkg/options"
	genericapiserver "github.com/maxiaolu1981/cretem/ottserver/internal/pkg/server"
	"github.com/maxiaolu1981/cretem/ottserver/internal/ottserver/options"
	"github.com/maxiaolu1981/cretem/ottserver/pkg/lock"
	"github.com/maxiaolu1981/cretem/ottserver/pkg/log"
	"github.com/maxiaolu1981/cretem/ottserver/pkg/shutdown"
	"github.com/maxiaolu1981/cretem/ottserver/pkg/shutdown/shutdownmanagers/posixsignal"
	"github.com/maxiaolu1981/cretem/ottserver/pkg/storage"
)

// 本实例签发令牌的布隆过滤器容量参数
const (
	tokenFilterCapacity = 100000
	tokenFilterFPRate   = 0.01
)

// redisKeyPrefix 业务键统一前缀, 限流/锁的完整键形如 ott:ratelimit:...
const redisKeyPrefix = "ott:"

type apiServer struct {
	gs               *shutdown.GracefulShutdown
	genericAPIServer *genericapiserver.GenericAPIServer

	opts *options.Options

	storeIns interfaces.Factory
	db       *gorm.DB
	redis    *storage.RedisCluster
	srv      srvv1.ServiceManager

	sessionMW    *ginjwt.GinJWTMiddleware
	tokenCapture *handler.Capturing

	auditMgr      *audit.Manager
	auditConsumer *audit.Consumer

	backgroundCtx    context.Context
	backgroundCancel context.CancelFunc
}

type preparedAPIServer struct {
	*apiServer
}

func createAPIServer(cfg *config.Config) (*apiServer, error) {
	gs := shutdown.New()
	gs.AddShutdownManager(posixsignal.NewPosixSignalManager())

	genericConfig, err := buildGenericConfig(cfg)
	if err != nil {
		return nil, err
	}

	genericServer, err := genericConfig.Complete().New()
	if err != nil {
		return nil, err
	}

	server := &apiServer{
		gs:               gs,
		genericAPIServer: genericServer,
		opts:             cfg.Options,
	}

	return server, nil
}

// PrepareRun 完成全部业务装配。顺序有依赖: redis连接供存储/限流/锁
// 使用, 存储工厂要先于业务服务, 审计管理器要先于路由(路由中间件注入
// 审计上下文), 后台任务最后启动。
func (s *apiServer) PrepareRun() (preparedAPIServer, error) {
	s.backgroundCtx, s.backgroundCancel = context.WithCancel(context.Background())

	s.initRedis()

	if err := s.initStore(); err != nil {
		return preparedAPIServer{}, err
	}

	s.initService()

	if err := s.initAudit(); err != nil {
		return preparedAPIServer{}, err
	}

	if err := s.installRoutes(); err != nil {
		return preparedAPIServer{}, err
	}

	s.startBackgroundTasks()
	s.registerShutdownCallbacks()

	return preparedAPIServer{s}, nil
}

func (s preparedAPIServer) Run() error {
	if err := s.gs.Start(); err != nil {
		return errors.Wrap(err, "启动停机信号监听失败")
	}

	return s.genericAPIServer.Run()
}

func buildGenericConfig(cfg *config.Config) (genericConfig *genericapiserver.Config, lastErr error) {
	genericConfig = genericapiserver.NewConfig()

	if lastErr = cfg.GenericServerRunOptions.ApplyTo(genericConfig); lastErr != nil {
		return
	}
	if lastErr = cfg.FeatureOptions.ApplyTo(genericConfig); lastErr != nil {
		return
	}
	if lastErr = cfg.InsecureServing.ApplyTo(genericConfig); lastErr != nil {
		return
	}
	if lastErr = cfg.JwtOptions.ApplyTo(genericConfig); lastErr != nil {
		return
	}

	return
}

// initRedis 启动redis连接维护循环。连接是进程级单例, 断线自动重连,
// 业务侧通过 storage.Connected() 感知可用性。
func (s *apiServer) initRedis() {
	ctx, cancel := context.WithCancel(context.Background())
	s.gs.AddShutdownCallback(shutdown.ShutdownFunc(func(string) error {
		cancel()
		return nil
	}))

	go storage.ConnectToRedis(ctx, redisStorageConfig(s.opts.RedisOptions))

	s.redis = &storage.RedisCluster{KeyPrefix: redisKeyPrefix}

	go metrics.WatchRedisHealth(s.backgroundCtx, 15*time.Second, storage.Connected)
}

// redisStorageConfig 把命令行选项翻译成storage包自己的连接配置。
// storage不引用选项包, 选项经由server和middleware最终依赖storage, 共用会成环。
func redisStorageConfig(ro *genericoptions.RedisOptions) *storage.Config {
	return &storage.Config{
		Addrs:                 ro.Addrs,
		MasterName:            ro.MasterName,
		Password:              ro.Password,
		Database:              ro.Database,
		MaxActive:             ro.MaxActive,
		Timeout:               ro.Timeout,
		EnableCluster:         ro.EnableCluster,
		UseSSL:                ro.UseSSL,
		SSLInsecureSkipVerify: ro.SSLInsecureSkipVerify,
	}
}

// initStore 按配置选择存储后端并注册为进程级store单例。
// redis后端只放令牌, 用户数据仍走mysql。
func (s *apiServer) initStore() error {
	tokenStore := s.opts.TokenOptions.Store

	switch tokenStore {
	case genericoptions.TokenStoreMySQL:
		factory, dbIns, err := mysql.GetMySQLFactoryOr(s.opts.MySQLOptions)
		if err != nil {
			return errors.Wrap(err, "初始化mysql存储失败")
		}
		if err := mysql.MigrateDatabase(dbIns); err != nil {
			return errors.Wrap(err, "数据库迁移失败")
		}
		s.storeIns = factory
		s.db = dbIns

	case genericoptions.TokenStoreRedis:
		factory, dbIns, err := mysql.GetMySQLFactoryOr(s.opts.MySQLOptions)
		if err != nil {
			return errors.Wrap(err, "初始化mysql存储失败(redis令牌模式的用户数据依赖mysql)")
		}
		if err := mysql.MigrateDatabase(dbIns); err != nil {
			return errors.Wrap(err, "数据库迁移失败")
		}
		s.storeIns = storeredis.NewFactory(factory)
		s.db = dbIns

	case genericoptions.TokenStoreMemory:
		factory, err := memory.GetMemoryFactoryOr(s.opts.TokenOptions.MaxInMemoryTokens)
		if err != nil {
			return errors.Wrap(err, "初始化内存存储失败")
		}
		s.storeIns = factory

	default:
		return errors.Errorf("未知的令牌存储后端: %s", tokenStore)
	}

	interfaces.SetClient(s.storeIns)
	log.Infof("✅ 存储初始化完成: token-store=%s", tokenStore)

	return nil
}

func (s *apiServer) initService() {
	filter := bloom.NewWithEstimates(tokenFilterCapacity, tokenFilterFPRate)
	s.srv = srvv1.NewService(s.storeIns, s.redis, s.opts, filter, &sync.RWMutex{})
}

// initAudit 组装审计管道: 异步管理器 + 可选kafka sink/consumer。
// kafka初始化失败只降级不阻断, 登录主流程不依赖审计落地。
func (s *apiServer) initAudit() error {
	auditOpts := s.opts.AuditOptions
	kafkaOpts := s.opts.KafkaOptions

	cfg := audit.Config{
		Enabled:         auditOpts.Enabled,
		BufferSize:      auditOpts.BufferSize,
		ShutdownTimeout: auditOpts.ShutdownTimeout,
		LogFile:         auditOpts.LogFile,
		EnableMetrics:   auditOpts.EnableMetrics,
	}

	kafkaReady := auditOpts.Enabled && auditOpts.EnableKafka && len(kafkaOpts.Brokers) > 0
	if kafkaReady {
		if kafkaOpts.AutoCreateTopic {
			if err := audit.EnsureTopics(kafkaOpts.Brokers, kafkaOpts.Topic,
				kafkaOpts.DesiredPartitions, 10*time.Second); err != nil {
				log.Warnf("审计主题预创建失败, 继续启动: %v", err)
			}
		}

		sink, err := audit.NewKafkaSink(audit.KafkaSinkConfig{
			Brokers:      kafkaOpts.Brokers,
			Topic:        kafkaOpts.Topic,
			RequiredAcks: kafkaOpts.RequiredAcks,
			Async:        kafkaOpts.Async,
			BatchSize:    kafkaOpts.BatchSize,
			BatchTimeout: kafkaOpts.BatchTimeout,
			MaxRetries:   kafkaOpts.MaxRetries,
			MaxRate:      kafkaOpts.ProducerMaxRate,
		})
		if err != nil {
			log.Warnf("🔥 kafka审计sink初始化失败, 降级为本地sink: %v", err)
			kafkaReady = false
		} else {
			cfg.Sinks = append(cfg.Sinks, sink)
		}
	}

	mgr, err := audit.NewManager(cfg)
	if err != nil {
		return errors.Wrap(err, "初始化审计管理器失败")
	}
	s.auditMgr = mgr

	// 控制器通过gin上下文取审计管理器, 注入要先于业务路由注册
	s.genericAPIServer.Engine.Use(func(c *gin.Context) {
		audit.InjectToGinContext(c, mgr)
		c.Next()
	})

	// 消费端把审计事件落库, 只在kafka可用且有mysql连接时启动
	if kafkaReady && s.db != nil {
		s.auditConsumer = audit.NewConsumer(audit.ConsumerConfig{
			Brokers:     kafkaOpts.Brokers,
			Topic:       kafkaOpts.Topic,
			GroupID:     kafkaOpts.ConsumerGroup,
			MinBytes:    kafkaOpts.MinBytes,
			MaxBytes:    kafkaOpts.MaxBytes,
			WorkerCount: kafkaOpts.WorkerCount,
			MaxRetries:  kafkaOpts.MaxRetries,
		}, s.db)
		go s.auditConsumer.Start(s.backgroundCtx)
	}

	return nil
}

// startBackgroundTasks 启动布隆过滤器预热和mysql模式下的过期令牌
// 清扫。memory后端在签发时自清, redis后端靠TTL回收, 都不需要扫描。
func (s *apiServer) startBackgroundTasks() {
	go func() {
		ctx, cancel := context.WithTimeout(s.backgroundCtx, 30*time.Second)
		defer cancel()
		if err := s.srv.Tokens().WarmFilter(ctx); err != nil {
			log.Warnf("布隆过滤器预热失败(不影响启动): %v", err)
		}
	}()

	if s.opts.TokenOptions.Store == genericoptions.TokenStoreMySQL {
		go s.runTokenSweeper(s.backgroundCtx)
	}
}

func (s *apiServer) runTokenSweeper(ctx context.Context) {
	interval := s.opts.TokenOptions.SweepInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Infof("过期令牌清扫任务已启动: interval=%v", interval)

	for {
		select {
		case <-ctx.Done():
			log.Info("过期令牌清扫任务退出")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

// sweepOnce 执行一轮清扫。多实例部署时用redis分布式锁保证同一时刻
// 只有一个实例在扫, 拿不到锁按配置跳过或降级无锁执行。
func (s *apiServer) sweepOnce(ctx context.Context) {
	lockOpts := s.opts.LockOptions

	if lockOpts.Enabled && s.redis != nil {
		sweepLock := lock.NewRedisLock(s.redis, lockOpts.KeyPrefix+"token:sweep", lockOpts.Timeout)

		acquired, err := sweepLock.TryAcquire(ctx, lockOpts.RetryCount, lockOpts.RetryInterval)
		switch {
		case err != nil:
			if lockOpts.FallbackAction != "run" {
				log.Warnf("获取清扫锁失败, 本轮跳过: %v", err)
				return
			}
			log.Warnf("获取清扫锁失败, 按配置降级为无锁执行: %v", err)
		case !acquired:
			// 其他实例正在清扫
			return
		default:
			defer func() {
				if rerr := sweepLock.Release(context.Background()); rerr != nil {
					log.Warnf("释放清扫锁失败(等待自动过期): %v", rerr)
				}
			}()
		}
	}

	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	removed, err := s.srv.Tokens().SweepExpired(sweepCtx)
	if err != nil {
		log.Errorf("过期令牌清扫失败: %v", err)
		return
	}
	if removed > 0 {
		log.Infof("过期令牌清扫完成: removed=%d", removed)
	}
}

// registerShutdownCallbacks 注册停机回调, 关停顺序: 先停HTTP入口,
// 再停后台任务和审计管道(冲刷缓冲), 最后断开存储。
func (s *apiServer) registerShutdownCallbacks() {
	s.gs.AddShutdownCallback(shutdown.ShutdownFunc(func(string) error {
		s.genericAPIServer.Close()

		if s.backgroundCancel != nil {
			s.backgroundCancel()
		}

		if s.auditConsumer != nil {
			if err := s.auditConsumer.Close(); err != nil {
				log.Warnf("关闭审计消费者失败: %v", err)
			}
		}

		if s.auditMgr != nil {
			ctx, cancel := context.WithTimeout(context.Background(), s.opts.AuditOptions.ShutdownTimeout)
			defer cancel()
			if err := s.auditMgr.Shutdown(ctx); err != nil {
				log.Warnf("审计管理器关停超时: %v", err)
			}
		}

		if s.storeIns != nil {
			if err := s.storeIns.Close(); err != nil {
				log.Warnf("关闭存储失败: %v", err)
			}
		}

		return nil
	}))
}
