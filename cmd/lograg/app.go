package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"lograg/internal/config"
	"lograg/internal/domain"
	"lograg/internal/embedding/hash"
	"lograg/internal/embedding/openai"
	"lograg/internal/index"
	"lograg/internal/llm"
	"lograg/internal/logging"
	"lograg/internal/metrics"
	"lograg/internal/rag"
	"lograg/internal/scanner"
	"lograg/internal/workspace"
)

// app holds the components shared by the subcommands.
type app struct {
	ws         *workspace.Workspace
	cfg        *config.AppConfig
	configPath string
	logger     *slog.Logger
	metrics    *metrics.Recorder
	embedder   domain.Embedder
	store      *index.Store
	out        io.Writer
	closers    []func()
}

// loadApp resolves the workspace and config and assembles the ingestion side. logOut receives
// the logs; nil means the command's stderr.
func loadApp(cmd *cobra.Command, v *viper.Viper, logOut io.Writer) (*app, error) {
	ws, err := workspaceFor(v)
	if err != nil {
		return nil, err
	}
	if err := ws.Ensure(); err != nil {
		return nil, err
	}

	level, err := logging.ParseLevel(v.GetString("log-level"))
	if err != nil {
		return nil, err
	}
	if logOut == nil {
		logOut = cmd.ErrOrStderr()
	}
	logger, err := logging.New(logOut, level, logging.Format(v.GetString("log-format")))
	if err != nil {
		return nil, err
	}

	cmd.SetContext(logging.ToContext(cmd.Context(), logger))
	a := &app{ws: ws, logger: logger, out: cmd.OutOrStdout()}
	a.configPath = v.GetString("config")
	if a.configPath == "" {
		a.configPath = ws.ConfigPath()
		var created bool
		a.cfg, created, err = config.LoadDefault(a.configPath)
		if created {
			logger.Info("wrote default config, edit it to point at your logs", "path", a.configPath)
		}
	} else {
		a.cfg, err = config.Load(a.configPath)
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	a.embedder, err = newEmbedder(a.cfg.Embedder)
	if err != nil {
		return nil, err
	}
	a.store = index.NewStore(ws.IndexDir(),
		index.WithLockTimeout(a.cfg.LockTimeout()),
		index.WithLogger(logger))
	a.metrics = metrics.New(metrics.DefaultConfig())
	if addr := v.GetString("metrics-addr"); addr != "" {
		a.serveMetrics(addr)
	}
	return a, nil
}

func workspaceFor(v *viper.Viper) (*workspace.Workspace, error) {
	return workspace.New(v.GetString("data-dir"))
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", "addr", addr, "err", err)
		}
	}()
	a.logger.Info("serving metrics", "addr", addr)
	a.closers = append(a.closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
}

func (a *app) scanner() *scanner.Scanner {
	return scanner.New(a.store, a.embedder, scanner.WithMetrics(a.metrics))
}

func (a *app) completer() (llm.Completer, error) {
	c := a.cfg.LLM
	key := ""
	if c.APIKeyEnv != "" {
		key = os.Getenv(c.APIKeyEnv)
	}
	return llm.New(llm.Config{
		Provider: c.Provider,
		Hosts:    c.Hosts,
		Model:    c.Model,
		APIKey:   key,
		Timeout:  time.Duration(c.TimeoutSecs) * time.Second,
		Logger:   a.logger,
	})
}

func (a *app) completionOptions() llm.Options {
	o := a.cfg.LLM.Options
	return llm.Options{Temperature: o.Temperature, TopK: o.TopK, TopP: o.TopP, NumCtx: o.NumCtx, MaxTokens: o.MaxTokens}
}

func (a *app) engine(c llm.Completer) *rag.Engine {
	return rag.New(a.store, a.embedder, c,
		rag.WithCompletionOptions(a.completionOptions()),
		rag.WithDefaultK(a.cfg.NumChunksToReturn),
		rag.WithMetrics(a.metrics))
}

func newEmbedder(cfg config.EmbedderConfig) (domain.Embedder, error) {
	switch cfg.Type {
	case "hash", "":
		return hash.NewEmbedder(cfg.Dimension, cfg.ShouldNormalize()), nil
	case "openai":
		if cfg.OpenAI == nil {
			return nil, errors.New("openai embedder config missing")
		}
		c, err := openai.NewClient(openai.Config{
			BaseURL:     cfg.OpenAI.BaseURL,
			APIKeyEnv:   cfg.OpenAI.APIKeyEnv,
			Model:       cfg.OpenAI.Model,
			Timeout:     time.Duration(cfg.OpenAI.TimeoutSecs) * time.Second,
			BatchSize:   cfg.OpenAI.BatchSize,
			Concurrency: cfg.OpenAI.Concurrency,
			Normalize:   cfg.ShouldNormalize(),
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown embedder: %s", cfg.Type)
	}
}
