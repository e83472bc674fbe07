package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"churnlens/analytics"
	"churnlens/db"
	"churnlens/events"
	qhttp "churnlens/http"
	"churnlens/insight"
	"churnlens/logging"
	"churnlens/ml"
)

type Config struct {
	Http struct {
		Port           int      `yaml:"port"`
		TimeoutSeconds int      `yaml:"timeout_seconds"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"http"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Model struct {
		Dir                 string `yaml:"dir"`
		FetchTimeoutSeconds int    `yaml:"fetch_timeout_seconds"`
	} `yaml:"model"`
	Analytics struct {
		CacheSize       int `yaml:"cache_size"`
		CacheTTLSeconds int `yaml:"cache_ttl_seconds"`
	} `yaml:"analytics"`
	Insights struct {
		APIKey         string `yaml:"api_key"`
		Model          string `yaml:"model"`
		BaseURL        string `yaml:"base_url"`
		MaxTokens      int    `yaml:"max_tokens"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"insights"`
	Log logging.Config `yaml:"log"`
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	config, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(config.Log)
	defer logger.Sync()

	store, err := db.NewStore(config.Database.Path, logger)
	if err != nil {
		logger.Fatal("database init failed", zap.Error(err))
	}
	defer store.Close()

	modelDir := config.Model.Dir
	if modelDir == "" {
		modelDir = "./models"
	}
	if err := os.MkdirAll(modelDir, 0o755); err != nil {
		logger.Fatal("model dir init failed", zap.Error(err))
	}
	cache := ml.NewModelCache(modelDir)

	hub := events.NewHub(logger)
	go hub.Run()
	defer hub.Stop()

	trainer := ml.NewTrainer(store, cache, logger, hub,
		time.Duration(config.Model.FetchTimeoutSeconds)*time.Second)

	watcher, err := ml.NewWatcher(modelDir, trainer, logger)
	if err != nil {
		logger.Fatal("model watcher init failed", zap.Error(err))
	}
	defer watcher.Close()

	cacheTTL := time.Duration(config.Analytics.CacheTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	service := analytics.NewService(store, config.Analytics.CacheSize, cacheTTL, logger)

	var narrator qhttp.InsightGenerator
	if config.Insights.APIKey != "" {
		narrator = insight.NewNarrator(
			config.Insights.APIKey,
			config.Insights.Model,
			config.Insights.BaseURL,
			time.Duration(config.Insights.TimeoutSeconds)*time.Second,
			config.Insights.MaxTokens,
		)
	} else {
		logger.Info("insights disabled, no api key configured")
	}

	serverConfig := qhttp.DefaultServerConfig()
	if config.Http.Port > 0 {
		serverConfig.Port = config.Http.Port
	}
	if config.Http.TimeoutSeconds > 0 {
		serverConfig.Timeout = time.Duration(config.Http.TimeoutSeconds) * time.Second
	}
	if len(config.Http.AllowedOrigins) > 0 {
		serverConfig.AllowedOrigins = config.Http.AllowedOrigins
	}

	server := qhttp.NewServer(serverConfig, qhttp.Deps{
		Analytics: service,
		Trainer:   trainer,
		Narrator:  narrator,
		Events:    hub,
		Logger:    logger,
	})

	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	if err := server.Stop(); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
}

func loadConfig(path string) (*Config, error) {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, err
	}
	return &config, nil
}
