package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"APChat/global"
	"APChat/logger"
	"APChat/middleware"
	midsec "APChat/middleware/security"
	"APChat/service/chat"
	"APChat/service/chat/handlers"
	"APChat/service/events"
	"APChat/service/kafka"
	"APChat/service/match"
	"APChat/service/natsx"
	"APChat/service/room"
	"APChat/service/storage"
	redisc "APChat/service/storage/redis"
	"APChat/tools/ids"
)

func main() {
	cfg, err := global.Load()
	if err != nil {
		logger.Errorf("[main] load config: %v", err)
		os.Exit(1)
	}
	ids.SetNodeID(cfg.Server.NodeID)

	// ---- 协调存储：Redis 可用则跨进程原子 claim，否则退化为单进程内存队列 ----
	var queue storage.QueueStore
	if err := redisc.InitRedis(redisc.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	}); err != nil {
		logger.Warnf("[main] redis unavailable, falling back to in-memory queue: %v", err)
		queue = storage.NewMemQueue(cfg.Match.ScanLimit, cfg.Match.FallbackWindow)
	} else {
		queue = storage.NewRedisQueue(cfg.Match.ScanLimit, cfg.Match.FallbackWindow)
	}

	// ---- 事件出口：NATS / Kafka 均可选，都关掉则 Nop ----
	var sinks []events.Sink
	var natsClient *natsx.NatsxClient
	if cfg.Nats.Enabled {
		natsClient, err = natsx.NewNatsxClient(natsx.NatsxConfig{
			Servers: cfg.Nats.Servers,
			Name:    cfg.Nats.Name,
		})
		if err != nil {
			logger.Errorf("[main] nats connect: %v", err)
			os.Exit(1)
		}
		sink, serr := events.NewNatsSink(natsClient)
		if serr != nil {
			logger.Errorf("[main] nats sink: %v", serr)
			os.Exit(1)
		}
		sinks = append(sinks, sink)
	}
	if cfg.Kafka.Enabled {
		kafka.Cfg.Brokers = cfg.Kafka.Brokers
		kafka.Cfg.EventsTopic = cfg.Kafka.Topic
		if err := kafka.InitKafkaClient(); err != nil {
			logger.Errorf("[main] kafka client: %v", err)
			os.Exit(1)
		}
		if err := kafka.InitSyncProducerFromClient(); err != nil {
			logger.Errorf("[main] kafka producer: %v", err)
			os.Exit(1)
		}
		if kafka.Cfg.AutoCreateTopicsOnStart {
			if err := kafka.EnsureTopicsFromClient([]string{cfg.Kafka.Topic}); err != nil {
				logger.Errorf("[main] kafka ensure topics: %v", err)
				os.Exit(1)
			}
		}
		sinks = append(sinks, events.NewKafkaSink(cfg.Kafka.Topic))
	}
	var pub events.Publisher = events.Nop{}
	if len(sinks) > 0 {
		pub = events.NewFanout(sinks...)
	}

	// ---- 核心装配：注册表 -> 房间 -> 协调器 -> 网关 ----
	mgr := chat.NewConnManagerWithConf(chat.ManagerConf{
		SendBuffer: cfg.Conn.SendBuffer,
		IdleTTL:    cfg.Conn.IdleTTL,
		SweepEvery: cfg.Conn.SweepEvery,
	}, cfg.Server.GatewayID)
	srv := chat.NewServer(mgr)

	rooms := room.NewManager(room.Config{
		WaitingTimeout: cfg.Room.WaitingTimeout,
		ActiveTimeout:  cfg.Room.ActiveTimeout,
		SweepEvery:     cfg.Room.SweepEvery,
	}, srv, pub)

	matcher := match.NewCoordinator(queue, mgr, rooms, match.Config{
		QueueTTL:       cfg.Match.QueueTTL,
		FallbackWindow: cfg.Match.FallbackWindow,
		SweepEvery:     cfg.Match.SweepEvery,
	})

	srv.Wire(matcher, rooms)
	handlers.RegisterAll(srv.Disp())

	// ---- HTTP/WS 路由 ----
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	middleware.Manager().Add(middleware.Origin())
	middleware.Manager().Add(midsec.Middleware(midsec.DefaultOptions()))
	r.GET("/ws", middleware.Manager().Use(), srv.HandleWS)
	middleware.GET(r, "/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "conns": mgr.Count()})
	}, middleware.RouteOpt{})
	// 运维视角的队列水位；带 JWT 才放行
	middleware.GET(r, "/stats", func(c *gin.Context) {
		n, err := queue.Size(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"conns": mgr.Count(), "queued": n})
	}, middleware.RouteOpt{IsAuth: true})

	httpSrv := &http.Server{Addr: cfg.Server.Addr, Handler: r}
	go func() {
		logger.Infof("[main] listening on %s gateway=%s", cfg.Server.Addr, cfg.Server.GatewayID)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("[main] listen: %v", err)
			os.Exit(1)
		}
	}()

	// ---- 优雅退出：先停新连接，再收尾房间与队列 ----
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Infof("[main] shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)

	matcher.Close()
	rooms.Close()
	mgr.Close()
	if natsClient != nil {
		_ = natsClient.Close()
	}
	if cfg.Kafka.Enabled {
		kafka.CloseKafka()
	}
	_ = redisc.CloseRedis()
	logger.Sync()
}
