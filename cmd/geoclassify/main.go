// 程序入口：读取配置、打开数据库、组装分类流程并启动 HTTP 服务
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GrainArc/GeoClassify/config"
	"github.com/GrainArc/GeoClassify/logger"
	"github.com/GrainArc/GeoClassify/models"
	"github.com/GrainArc/GeoClassify/pipeline"
	"github.com/GrainArc/GeoClassify/routers"
	"github.com/GrainArc/GeoClassify/spatial"
	"github.com/GrainArc/GeoClassify/views"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func main() {
	configPath := flag.String("config", "", "config file (.xml, .yaml)")
	autostart := flag.Bool("autostart", false, "start the classification loop on boot")
	flag.Parse()

	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			panic(err)
		}
		config.Apply(cfg)
	}
	cfg := config.MainConfig

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	models.InitDB()
	log.Info("database ready", "driver", cfg.Database.Driver)

	var provider spatial.Provider = spatial.NewPlanarProvider()
	if cfg.Provider == "postgis" {
		provider = spatial.NewPostGISProvider(models.DB)
	}
	log.Info("spatial provider selected", "provider", cfg.Provider)

	var lock pipeline.Locker
	if cfg.Redis != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.Warn("redis unavailable, falling back to local lock", "addr", cfg.Redis, "error", err)
		} else {
			lock = pipeline.NewRedisLock(rdb, "geoclassify:ingest", 30*time.Minute)
			log.Info("redis lock enabled", "addr", cfg.Redis)
		}
	}

	if err := os.MkdirAll(cfg.Upload, os.ModePerm); err != nil {
		log.Fatal("failed to create upload dir", "dir", cfg.Upload, "error", err)
	}

	p := pipeline.New(models.DB, provider, pipeline.OptionsFrom(cfg), log.With("component", "pipeline"), lock)
	defer p.Close()
	if *autostart {
		p.Start()
	}

	if cfg.LogMode == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	routers.ClassifyRouters(r, &views.App{
		DB:        models.DB,
		Provider:  provider,
		Pipeline:  p,
		UploadDir: cfg.Upload,
		Log:       log,
	})

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		log.Info("http server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("http shutdown failed", "error", err)
	}
}
