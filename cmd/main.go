package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ai_therapist/internal/clients/events"
	"ai_therapist/internal/clients/groq"
	"ai_therapist/internal/clients/kokoro"
	"ai_therapist/internal/clients/ollama"
	"ai_therapist/internal/config"
	"ai_therapist/internal/handlers"
	"ai_therapist/internal/metrics"
	"ai_therapist/internal/middleware"
	"ai_therapist/internal/models"
	"ai_therapist/internal/routes"
	"ai_therapist/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "config.yaml", "配置文件路径")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Log)
	logger.Info().Str("config", *configPath).Msg("AI 心理陪伴服务启动中...")

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("服务异常退出")
	}
	logger.Info().Msg("服务已退出")
}

// setupLogger 按配置创建日志
func setupLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}

// newGenerator 按提供方创建语言模型客户端
func newGenerator(cfg *config.Config) (models.ChatGenerator, string) {
	if cfg.LLM.Provider == config.ProviderOllama {
		return ollama.NewClient(ollama.Config{
			Host:    cfg.Ollama.Host,
			Model:   cfg.Ollama.Model,
			Timeout: cfg.LLM.Timeout,
		}), cfg.Ollama.Model
	}
	return groq.NewClient(groq.Config{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLM.Timeout,
	}), cfg.LLM.Model
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 监控指标
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// 对话历史
	store := services.NewHistoryStore(cfg.History.Path, logger, m)

	// 语言模型
	generator, model := newGenerator(cfg)
	logger.Info().Str("provider", cfg.LLM.Provider).Str("model", model).Msg("语言模型已配置")

	// 语音合成与播放
	synthesizer, err := kokoro.NewClient(kokoro.Config{
		BaseURL:      cfg.TTS.BaseURL,
		APIKey:       cfg.TTS.APIKey,
		Model:        cfg.TTS.Model,
		Voice:        cfg.TTS.Voice,
		Speed:        cfg.TTS.Speed,
		SplitPattern: cfg.TTS.SplitPattern,
		SampleRate:   cfg.TTS.SampleRate,
		Timeout:      cfg.TTS.Timeout,
	})
	if err != nil {
		return fmt.Errorf("创建语音合成客户端失败: %w", err)
	}

	hub := services.NewAudioHub(services.AudioOptions{
		Encoding:     cfg.Audio.Encoding,
		Realtime:     cfg.Audio.Realtime,
		WriteTimeout: cfg.Audio.WriteTimeout,
	}, logger)
	defer hub.Close()

	worker := services.NewSpeechWorker(synthesizer, hub, services.SpeechOptions{
		QueueSize:    cfg.Speech.QueueSize,
		PollInterval: cfg.Speech.PollInterval,
	}, logger, m)
	worker.Start(context.Background())

	// 对话服务
	dialog := services.NewDialogService(store, generator, worker, services.DialogOptions{
		Persona: cfg.LLM.Persona,
		Window:  cfg.History.Window,
		Generate: models.GenerateOptions{
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
			TopP:        cfg.LLM.TopP,
		},
		Timeout: cfg.LLM.Timeout,
	}, logger, m)

	// 事件发布
	if cfg.NATS.URL != "" {
		publisher, err := events.NewPublisher(cfg.NATS.URL, cfg.NATS.Token, cfg.NATS.Subject, logger)
		if err != nil {
			return err
		}
		defer publisher.Close()
		dialog.SetPublisher(publisher)
		logger.Info().Str("subject", cfg.NATS.Subject).Msg("对话事件发布已启用")
	}

	chat := services.NewChatService(dialog, m)

	// 创建Gin引擎
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	middleware.Setup(engine, logger)
	routes.RegisterRoutes(engine, handlers.NewChatHandler(chat, store, worker, logger), hub, reg)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: engine,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", server.Addr).Msg("HTTP服务器已启动")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP服务器错误: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("正在关闭服务...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("HTTP服务器关闭超时")
		}

		if err := worker.Stop(cfg.Speech.StopTimeout); err != nil {
			logger.Warn().Err(err).Msg("语音工作协程未能按时退出")
		}
		return nil
	})

	return g.Wait()
}
