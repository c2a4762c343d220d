package svc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"xstream/internal/application/port"
	"xstream/internal/application/usecase/feed"
	"xstream/internal/infrastructure/config"
	"xstream/internal/infrastructure/exchange/binance"
	"xstream/internal/infrastructure/storage"
	"xstream/internal/infrastructure/storage/composite"
	pgrepo "xstream/internal/infrastructure/storage/postgres"
	redisrepo "xstream/internal/infrastructure/storage/redis"
	sqliterepo "xstream/internal/infrastructure/storage/sqlite"
	"xstream/internal/infrastructure/websocket"
	"xstream/internal/interfaces/console"
)

const depthResyncLimit = 1000

type ServiceContext struct {
	Ctx    context.Context
	Config *config.Config
	// ID 进程实例 id，写入快照行
	ID string

	// 基础设施层（第一层初始化）
	rest      *binance.Clients
	wsManager *websocket.Manager
	repo      port.Repository

	// 输出端口
	Sink port.Sink

	// 应用组件（依赖基础设施）
	adapter  *feed.Adapter
	recorder *feed.Recorder

	// 资源管理
	closerChain []func() error
}

// New 创建并初始化 ServiceContext
// 这是应用启动的唯一入口点，所有依赖初始化都在这里完成
func New(ctx context.Context, cfg *config.Config) (*ServiceContext, error) {
	if !cfg.AnyStreamEnabled() {
		return nil, ErrNoStreamsEnabled
	}

	rest := binance.NewClients(binance.ClientConfig{
		BaseURL:           cfg.Binance.RestURL,
		APIKey:            cfg.Binance.APIKey,
		APISecret:         cfg.Binance.APISecret,
		RequestsPerSecond: cfg.Binance.RequestsPerSecond,
	})

	wsManager := websocket.NewManager(rest.UserStream)
	if err := wsManager.Initialize(cfg); err != nil {
		if errors.Is(err, websocket.ErrNoChannels) {
			return nil, ErrNoStreamsEnabled
		}
		return nil, fmt.Errorf("failed to initialize websocket manager: %w", err)
	}

	sc := &ServiceContext{
		Ctx:         ctx,
		Config:      cfg,
		ID:          uuid.NewString(),
		rest:        rest,
		wsManager:   wsManager,
		Sink:        console.NewSink(),
		closerChain: make([]func() error, 0),
	}

	// 初始化所有组件，按依赖顺序
	if err := sc.initializeComponents(); err != nil {
		// 清理已初始化的资源
		_ = sc.Close()
		return nil, err
	}
	return sc, nil
}

// initializeComponents 初始化所有应用组件
func (sc *ServiceContext) initializeComponents() error {
	// 0. 存储层
	if err := sc.initializeStorage(); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageInitFailed, err)
	}
	sc.recorder = feed.NewRecorder(sc.repo, sc.Config.Consumer.RecordBuffer)

	// 1. 投影适配器，挂到每个流客户端
	cfg := sc.Config
	opts := feed.Options{
		TradeHistory:    cfg.Consumer.TradeHistory,
		TrackOrderBook:  cfg.Consumer.TrackOrderBook,
		AcceptAll:       cfg.Streams.AllTickers && len(cfg.Symbols.List) == 0,
		MetricsInterval: cfg.MetricsInterval(),
		Channels: func(symbol string) []string {
			return websocket.SymbolChannels(cfg, symbol)
		},
		ResyncOnGap: cfg.Consumer.ResyncOnGap,
		Snapshots:   sc.rest.Depth,
		DepthLimit:  depthResyncLimit,
		Recorder:    sc.recorder,
	}
	sc.adapter = feed.NewAdapter(sc.wsManager, sc.wsManager.Symbols(), opts)
	for _, client := range sc.wsManager.Clients() {
		sc.adapter.Attach(client)
	}
	sc.closerChain = append(sc.closerChain, sc.adapter.Close)

	log.Info().
		Str("id", sc.ID).
		Int("streams", len(sc.wsManager.Clients())).
		Int("symbols", len(sc.wsManager.Symbols())).
		Msg("✓ All components initialized")
	return nil
}

// initializeStorage 初始化存储层；未启用任何后端时使用内存仓储
func (sc *ServiceContext) initializeStorage() error {
	var repos []port.Repository

	// Redis 初始化
	if sc.Config.Redis.Enabled {
		repo, err := sc.initRedis()
		if err != nil {
			return fmt.Errorf("redis initialization failed: %w", err)
		}
		repos = append(repos, repo)
	}

	// SQLite 初始化
	if sc.Config.SQLite.Enabled {
		repo, err := sc.initSQLite()
		if err != nil {
			return fmt.Errorf("sqlite initialization failed: %w", err)
		}
		repos = append(repos, repo)
	}

	// Postgres 初始化
	if sc.Config.Postgres.Enabled {
		repo, err := sc.initPostgres()
		if err != nil {
			return fmt.Errorf("postgres initialization failed: %w", err)
		}
		repos = append(repos, repo)
	}

	switch len(repos) {
	case 0:
		sc.repo = storage.NewMemory(0)
		log.Info().Msg("no storage backend enabled, keeping projections in memory")
	case 1:
		sc.repo = repos[0]
	default:
		sc.repo = composite.New(repos...)
	}
	return nil
}

// initRedis 初始化 Redis 连接
func (sc *ServiceContext) initRedis() (port.Repository, error) {
	rdb := redisclient.NewClient(&redisclient.Options{
		Addr:     sc.Config.Redis.Addr,
		Password: sc.Config.Redis.Password,
		DB:       sc.Config.Redis.DB,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(sc.Ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	ttl := time.Duration(sc.Config.Redis.TTLSeconds) * time.Second
	repo := redisrepo.New(
		rdb,
		sc.Config.Redis.Prefix,
		ttl,
		sc.Config.Redis.TradeStream,
		sc.Config.Redis.AccountTopic,
	)

	// 注册关闭回调
	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Msg("closing redis connection")
		return rdb.Close()
	})

	log.Info().
		Str("addr", sc.Config.Redis.Addr).
		Int("db", sc.Config.Redis.DB).
		Msg("✓ Redis initialized")
	return repo, nil
}

// initSQLite 初始化 SQLite 数据库
func (sc *ServiceContext) initSQLite() (port.Repository, error) {
	repo, err := sqliterepo.New(sc.Config.SQLite.Path, sc.ID)
	if err != nil {
		return nil, fmt.Errorf("sqlite repo creation failed: %w", err)
	}

	// 注册关闭回调
	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Msg("closing sqlite connection")
		return repo.Close()
	})

	log.Info().
		Str("path", sc.Config.SQLite.Path).
		Msg("✓ SQLite initialized")
	return repo, nil
}

// initPostgres 初始化 Postgres
func (sc *ServiceContext) initPostgres() (port.Repository, error) {
	repo, err := pgrepo.New(sc.Config.Postgres.DSN, sc.ID)
	if err != nil {
		return nil, fmt.Errorf("postgres repo creation failed: %w", err)
	}

	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Msg("closing postgres connection")
		return repo.Close()
	})

	log.Info().Msg("✓ Postgres initialized")
	return repo, nil
}

// BuildFeedServiceDeps 构建 feed Service 所需的所有依赖
func (sc *ServiceContext) BuildFeedServiceDeps() feed.ServiceDeps {
	deps := feed.ServiceDeps{
		Adapter:       sc.adapter,
		Streams:       sc.wsManager,
		Recorder:      sc.recorder,
		PrintEveryMin: sc.Config.App.PrintEveryMin,
		Color:         true,
		Sink:          sc.Sink,
		Repo:          sc.repo,
	}
	// 账户快照需要签名，只在私有流开启且有完整凭证时拉取
	if sc.Config.Streams.UserData && sc.Config.Binance.APISecret != "" {
		deps.Accounts = sc.rest.Account
	}
	return deps
}

// Close 关闭 ServiceContext 中的所有资源
// 应该在应用退出时调用；流连接由 feed Service 在退出时关闭
func (sc *ServiceContext) Close() error {
	var errs []error
	// 按照相反的顺序关闭所有资源
	for i := len(sc.closerChain) - 1; i >= 0; i-- {
		if err := sc.closerChain[i](); err != nil {
			log.Error().Err(err).Msg("error closing resource")
			errs = append(errs, err)
		}
	}
	sc.closerChain = nil
	return errors.Join(errs...)
}
