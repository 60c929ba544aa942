package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/DatanoiseTV/personamcp/internal/chat"
	"github.com/DatanoiseTV/personamcp/internal/conversation"
	"github.com/DatanoiseTV/personamcp/internal/httpapi"
	"github.com/DatanoiseTV/personamcp/internal/llm"
	"github.com/DatanoiseTV/personamcp/internal/logging"
	"github.com/DatanoiseTV/personamcp/internal/orgchart"
	"github.com/DatanoiseTV/personamcp/internal/persona"
	"github.com/DatanoiseTV/personamcp/internal/store"
)

// App holds the services shared by the MCP tools, the REPL and the HTTP API.
type App struct {
	cfg      *Config
	logger   *zap.Logger
	personas *persona.Service
	convs    *conversation.Service
	charts   *orgchart.Service
	chatOpts chat.Options
	sessions *SessionManager
	registry *prometheus.Registry
	now      func() time.Time
	closers  []func() error
}

// newApp assembles the services over kv. gen produces persona replies and idx
// may be nil to disable semantic search.
func newApp(cfg *Config, logger *zap.Logger, kv store.KV, gen llm.Generator, idx persona.Index, reg *prometheus.Registry) *App {
	opts := []persona.Option{persona.WithLogger(logger)}
	if idx != nil {
		opts = append(opts, persona.WithIndex(idx))
	}

	chatOpts := chat.DefaultOptions(llm.Instrument(gen, llm.NewMetrics(reg)), nil)
	chatOpts.Logger = logger
	chatOpts.Metrics = chat.NewMetrics(reg)
	chatOpts.SecondResponderProbability = cfg.Chat.SecondResponderProbability
	chatOpts.SecondResponderDelay = cfg.Chat.SecondResponderDelay

	a := &App{
		cfg:      cfg,
		logger:   logger,
		personas: persona.NewService(kv, opts...),
		convs:    conversation.NewService(kv),
		charts:   orgchart.NewService(kv, time.Now),
		chatOpts: chatOpts,
		sessions: NewSessionManager(cfg.Sessions.Max),
		registry: reg,
		now:      time.Now,
	}
	a.chatOpts.Conversations = a.convs
	return a
}

// openApp opens the store and the optional index described by cfg.
func openApp(ctx context.Context, cfg *Config, logger *zap.Logger) (*App, error) {
	var (
		kv      store.KV
		closers []func() error
	)
	if cfg.Storage.Ephemeral {
		kv = store.NewMemory()
	} else {
		db, err := store.OpenBadger(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		kv = db
		closers = append(closers, db.Close)
	}

	idx, err := openIndex(ctx, cfg, logger)
	if err != nil {
		for _, c := range closers {
			_ = c()
		}
		return nil, err
	}
	if idx != nil {
		closers = append([]func() error{idx.Close}, closers...)
	}

	gen := llm.NewGemini(llm.GeminiConfig{
		Model:           cfg.Gemini.Model,
		BaseURL:         cfg.Gemini.BaseURL,
		Temperature:     cfg.Gemini.Temperature,
		TopK:            cfg.Gemini.TopK,
		TopP:            cfg.Gemini.TopP,
		MaxOutputTokens: cfg.Gemini.MaxOutputTokens,
		Timeout:         cfg.Gemini.Timeout,
	}, logger.Named("gemini"))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	app := newApp(cfg, logger, kv, gen, idx, reg)
	app.closers = closers

	if cfg.Gemini.APIKey != "" {
		current, err := app.personas.DefaultAPIKey(ctx)
		if err == nil && current == "" {
			if err := app.personas.SetDefaultAPIKey(ctx, cfg.Gemini.APIKey); err != nil {
				logger.Warn("failed to seed default api key", zap.Error(err))
			}
		}
	}
	return app, nil
}

func openIndex(ctx context.Context, cfg *Config, logger *zap.Logger) (persona.Index, error) {
	if cfg.Index.Backend == IndexNone {
		return nil, nil
	}
	if cfg.Gemini.APIKey == "" {
		logger.Warn("semantic index disabled: gemini.api_key is not set")
		return nil, nil
	}
	embedder := llm.NewEmbedder(llm.EmbedderConfig{
		APIKey:    cfg.Gemini.APIKey,
		Model:     cfg.Gemini.EmbeddingModel,
		Dimension: int32(cfg.Index.Dimension),
		BaseURL:   cfg.Gemini.BaseURL,
	})

	switch cfg.Index.Backend {
	case IndexChromem:
		dir := cfg.Index.Path
		if cfg.Storage.Ephemeral {
			dir = ""
		}
		return persona.NewChromemIndex(dir, embedder, logger.Named("index"))
	case IndexQdrant:
		return persona.NewQdrantIndex(ctx, persona.QdrantConfig{
			Host:       cfg.Index.QdrantHost,
			Port:       cfg.Index.QdrantPort,
			APIKey:     cfg.Index.QdrantAPIKey,
			UseTLS:     cfg.Index.QdrantUseTLS,
			Collection: cfg.Index.QdrantCollection,
			Dimension:  cfg.Index.Dimension,
		}, embedder, logger.Named("index"))
	}
	return nil, fmt.Errorf("unknown index backend %q", cfg.Index.Backend)
}

// Close releases the index and the store.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *App) mcpServer() *server.MCPServer {
	s := server.NewMCPServer(ServerName, ServerVersion,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	s.AddTools(a.tools()...)
	return s
}

func (a *App) httpServer() (*httpapi.Server, error) {
	return httpapi.NewServer(httpapi.Deps{
		Personas:      a.personas,
		Conversations: a.convs,
		Charts:        a.charts,
		Gatherer:      a.registry,
	}, a.logger.Named("http"), &httpapi.Config{Host: a.cfg.HTTP.Host, Port: a.cfg.HTTP.Port})
}

// serve runs the MCP server on stdio until ctx is done or stdin closes.
func (a *App) serve(ctx context.Context) error {
	if a.cfg.HTTP.Enabled {
		srv, err := a.httpServer()
		if err != nil {
			return err
		}
		go func() {
			if err := srv.Start(); err != nil {
				a.logger.Error("http server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn("http shutdown failed", zap.Error(err))
			}
		}()
	}

	stdio := server.NewStdioServer(a.mcpServer())
	stdio.SetErrorLogger(zap.NewStdLog(a.logger.Named("mcp")))

	a.logger.Info("PersonaMCP server starting on stdio",
		zap.String("version", ServerVersion),
		zap.String("storage", a.cfg.Storage.Path),
		zap.String("index", a.cfg.Index.Backend),
		zap.Bool("http", a.cfg.HTTP.Enabled),
	)
	err := stdio.Listen(ctx, os.Stdin, os.Stdout)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		ephemeral  bool
	)

	// setup loads config and opens the app for a subcommand.
	setup := func(ctx context.Context) (*App, error) {
		cfg, err := LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
		if ephemeral {
			cfg.Storage.Ephemeral = true
		}
		logger, err := logging.New(cfg.Log)
		if err != nil {
			return nil, err
		}
		return openApp(ctx, cfg, logger)
	}

	root := &cobra.Command{
		Use:           "personamcp",
		Short:         "Author digital personas and simulate conversations with them",
		Version:       ServerVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ~/.personamcp/config.yaml)")
	root.PersistentFlags().BoolVar(&ephemeral, "ephemeral", false, "keep all data in memory for this run")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server on stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()
			return app.serve(cmd.Context())
		},
	}

	repl := &cobra.Command{
		Use:   "repl",
		Short: "Drive the tools from an interactive prompt",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()
			app.runInteractiveCLI(cmd.Context(), os.Stdin, os.Stdout)
			return nil
		},
	}

	reindex := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the semantic persona index",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()
			n, err := app.personas.Reindex(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d personas.\n", n)
			return nil
		},
	}

	root.AddCommand(serve, repl, reindex)
	root.RunE = serve.RunE
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		log.Fatalf("personamcp: %v", err)
	}
}
