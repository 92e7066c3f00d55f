package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/TIANLI0/CrackKit/config"
	"github.com/TIANLI0/CrackKit/handler"
	"github.com/TIANLI0/CrackKit/middleware"
	"github.com/TIANLI0/CrackKit/monitor"
	"github.com/TIANLI0/CrackKit/overlay"
	"github.com/TIANLI0/CrackKit/service"
	"github.com/TIANLI0/CrackKit/utils"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	BuildID   = "unknown"
	GitCommit = "unknown"
	GitBranch = "unknown"
)

func main() {
	// .env 中保存 ROBOFLOW_API_KEY，文件不存在时只读环境变量
	envErr := godotenv.Load()

	// 加载配置
	cfg := config.New()

	// 初始化日志
	if err := utils.InitLogger(cfg.Server.Mode); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer utils.Sync()

	utils.Logger.Info("starting CrackKit server",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
		zap.String("git_branch", GitBranch))

	if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		utils.Logger.Warn("failed to load .env", zap.Error(envErr))
	}

	if err := cfg.Validate(); err != nil {
		utils.Logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 推理结果缓存，默认关闭
	var cache service.PredictionCache
	if cfg.Cache.Enabled {
		redisService := service.NewRedisService(&cfg.Redis, cfg.Cache.TTL)
		if err := redisService.Ping(ctx); err != nil {
			utils.Logger.Warn("redis connection failed, cache disabled", zap.Error(err))
		} else {
			utils.Logger.Info("redis connected successfully", zap.Duration("ttl", cfg.Cache.TTL))
			cache = redisService
		}
		defer redisService.Close()
	}

	var refiner overlay.MaskRefiner
	if cfg.Overlay.RefineMasks {
		refiner = service.NewMaskProcessor(&cfg.Overlay)
	}

	renderer, err := overlay.NewRenderer(&cfg.Overlay, refiner)
	if err != nil {
		utils.Logger.Fatal("failed to create renderer", zap.Error(err))
	}

	client := service.NewInferenceClient(&cfg.Inference)
	utils.Logger.Info("inference endpoint", zap.String("url", client.Endpoint()))

	var metrics *monitor.Metrics
	if cfg.Metrics.Enabled {
		metrics = monitor.New()
		go metrics.StartProcessSampler(ctx, cfg.Metrics.SampleInterval)
	}

	detectService := service.NewDetectService(client, renderer, cache,
		cfg.Inference.Project+"/"+cfg.Inference.Version, metrics)

	// 初始化Handler
	detectHandler := handler.NewDetectHandler(cfg, detectService)

	// 设置Gin模式
	gin.SetMode(cfg.Server.Mode)

	// 创建路由
	r := gin.New()
	r.MaxMultipartMemory = cfg.Upload.MaxSize
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS())

	// 静态文件服务
	r.Static("/static", "./static")
	r.StaticFile("/", "./static/index.html")

	// 健康检查和版本信息
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"version": Version,
		})
	})

	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":    Version,
			"build_time": BuildTime,
			"build_id":   BuildID,
			"git_commit": GitCommit,
			"git_branch": GitBranch,
		})
	})

	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics.Handler()))
	}

	// API路由
	api := r.Group("/api/v1")
	{
		api.POST("/detect", detectHandler.Detect)
		api.POST("/pixel", detectHandler.Pixel)
		api.GET("/predictions/:md5", detectHandler.GetPredictions)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		utils.Logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.Logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	utils.Logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		utils.Logger.Error("server shutdown error", zap.Error(err))
	}
}
