package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iceymoss/go-sched/internal/actions"
	"github.com/iceymoss/go-sched/internal/conf"
	"github.com/iceymoss/go-sched/internal/dispatch"
	"github.com/iceymoss/go-sched/internal/engine"
	"github.com/iceymoss/go-sched/internal/feed"
	"github.com/iceymoss/go-sched/internal/lock"
	"github.com/iceymoss/go-sched/internal/repo"
	"github.com/iceymoss/go-sched/internal/server"
	"github.com/iceymoss/go-sched/pkg/db"
	"github.com/iceymoss/go-sched/pkg/db/objects"
	"github.com/iceymoss/go-sched/pkg/logger"

	// import anonymously to register module actions
	_ "github.com/iceymoss/go-sched/internal/modules/dataimport"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️ no .env file: %v", err)
	}
	defer logger.Sync()

	cfg, err := conf.LoadConfig("configs/config.yaml")
	if err != nil {
		logger.Fatal("❌ LoadConfig error", zap.Error(err))
	}

	gormDB, err := db.OpenMysql(cfg.DB)
	if err != nil {
		logger.Fatal("❌ mysql error", zap.Error(err))
	}

	// 表结构归 CRUD 层管，调度循环本身不发 DDL
	if err := gormDB.AutoMigrate(&objects.Job{}, &objects.Action{}, &objects.RunLog{}); err != nil {
		logger.Fatal("❌ migrate error", zap.Error(err))
	}

	jobs := repo.NewJobRepo(gormDB)

	// 模块在 init 里登记的动作落表，落表前调度器走内存注册表兜底
	syncCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := jobs.SyncActions(syncCtx, actions.Default.All()); err != nil {
		logger.Warn("action sync failed, in-memory registry still serves", zap.Error(err))
	}
	cancel()

	pub := feed.NewPublisher(db.OpenRedis(cfg.Redis))

	// 调度器单例由这里（组合根）构造并持有，不靠包级标记防重复启动
	var sched *engine.Scheduler
	if cfg.Scheduler.Enabled {
		sqlDB, err := gormDB.DB()
		if err != nil {
			logger.Fatal("❌ mysql pool error", zap.Error(err))
		}

		dispatcher := dispatch.NewHTTPDispatcher(
			cfg.Dispatch.BaseURL,
			time.Duration(cfg.Dispatch.TimeoutSeconds)*time.Second,
		)

		sched = engine.NewScheduler(
			jobs,
			lock.NewMysqlLockManager(sqlDB),
			actions.Default,
			dispatcher,
			engine.NewCivilResolver(cfg.Scheduler.Timezone),
			cfg.Scheduler,
			engine.WithSink(pub),
		)
		sched.Start()
		logger.Info("✅ scheduler started",
			zap.Duration("interval", cfg.Scheduler.TickInterval()),
			zap.String("timezone", cfg.Scheduler.Timezone))
	} else {
		logger.Info("scheduler disabled by config")
	}

	srv := server.NewServer(jobs, sched, pub)

	port := cfg.Server.Port
	if port == "" {
		port = ":8080"
	}

	go func() {
		log.Printf("🌐 Admin API running at http://localhost%s", port)
		if err := srv.Run(port); err != nil {
			logger.Fatal("❌ Server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("shutting down gracefully...")
	if sched != nil {
		// 在途 tick 跑完再退，没有持久化的"进行中"状态需要清理
		sched.Stop()
	}
	log.Println("shutdown complete")
}
