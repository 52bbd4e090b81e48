package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/gamerec/internal/api"
	"github.com/kalambet/gamerec/internal/config"
	"github.com/kalambet/gamerec/internal/intent"
	"github.com/kalambet/gamerec/internal/ollama"
	"github.com/kalambet/gamerec/internal/pipeline"
	"github.com/kalambet/gamerec/internal/proxy"
	"github.com/kalambet/gamerec/internal/retrieval"
	"github.com/kalambet/gamerec/internal/rewrite"
	"github.com/kalambet/gamerec/internal/session"
	"github.com/kalambet/gamerec/internal/storage"
	"github.com/kalambet/gamerec/internal/synth"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gamerec server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running gamerec server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show gamerec system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	startCmd.Flags().Bool("mcp", true, "serve MCP tools over stdio")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "gamerec.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func setupLogging(cfg config.LogConfig) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, opts)))
		return
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
}

// newEmbeddingCache prefers Redis when configured so several server
// processes share vectors; otherwise vectors are cached in memory.
func newEmbeddingCache(ctx context.Context, cfg config.CacheConfig) (retrieval.EmbeddingCache, func(), error) {
	if cfg.RedisAddr == "" {
		return retrieval.NewMemoryCache(cfg.EmbeddingTTL), func() {}, nil
	}
	rc, err := retrieval.NewRedisCache(ctx, retrieval.RedisConfig{
		Addr: cfg.RedisAddr,
		TTL:  cfg.EmbeddingTTL,
	})
	if err != nil {
		return nil, nil, err
	}
	return rc, func() { rc.Close() }, nil
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "gamerec version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log)

	variant, err := intent.ParseVariant(cfg.Retrieval.Variant)
	if err != nil {
		return err
	}

	apiToken, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("gamerec is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("gamerec is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ollamaClient := ollama.New(cfg.Ollama.BaseURL)
	if err := ollama.EnsureReady(ctx, ollamaClient, cfg.Ollama.EmbedModel, os.Stderr); err != nil {
		return err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()
	if n, err := store.CountGames(ctx); err == nil {
		slog.Info("catalog opened", "games", n, "data_dir", cfg.Storage.DataDir)
		if n == 0 {
			printWarning("the game catalog is empty; every search will come back without results")
		}
	}

	cache, closeCache, err := newEmbeddingCache(ctx, cfg.Cache)
	if err != nil {
		return fmt.Errorf("connecting embedding cache: %w", err)
	}
	defer closeCache()

	embedder := retrieval.NewEmbedder(ollamaClient, cfg.Ollama.EmbedModel, retrieval.WithCache(cache))
	retriever := retrieval.NewRetriever(embedder, retrieval.NewSQLiteStore(store), retrieval.Options{
		NumCandidates: cfg.Retrieval.NumCandidates,
		Limit:         cfg.Retrieval.Limit,
	})

	llm := proxy.NewClient(cfg.Proxy.OpenRouterAPIKey,
		proxy.WithBaseURL(cfg.Proxy.BaseURL),
		proxy.WithModel(cfg.Proxy.DefaultModel),
		proxy.WithBreaker(proxy.BreakerSettings{
			FailureThreshold: uint32(cfg.Breaker.FailureThreshold),
			Timeout:          cfg.Breaker.Timeout,
		}),
	)

	recommender := pipeline.NewRecommender(
		rewrite.New(llm),
		intent.NewRouter(llm, variant),
		retriever,
		llm,
		synth.New(llm),
	)
	slog.Info("pipeline ready", "variant", variant, "model", llm.Model())

	handler := api.NewHandler(api.AppDeps{
		Conversation: recommender,
		Sessions:     session.NewStore(cfg.Session.TTL),
		Catalog:      store,
		Token:        apiToken,
		Variant:      string(variant),
		Model:        llm.Model(),
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "gamerec listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Asker:    recommender,
			Searcher: retriever,
			Version:  version,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		g.Go(func() error {
			if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
			return nil
		})
		slog.Info("MCP server started (stdio transport)")
	}

	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("gamerec is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop gamerec (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to gamerec (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if ollama.New(cfg.Ollama.BaseURL).IsRunning(checkCtx) {
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	} else {
		printStatus("Ollama", "not running")
	}
	printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)

	llm := proxy.NewClient(cfg.Proxy.OpenRouterAPIKey, proxy.WithBaseURL(cfg.Proxy.BaseURL))
	if models, err := llm.ListModels(checkCtx); err != nil {
		printStatus("OpenRouter", "unreachable (%v)", err)
	} else {
		printStatus("OpenRouter", "reachable, %d models", len(models))
	}
	printStatus("Model", "%s", cfg.Proxy.DefaultModel)
	printStatus("Variant", "%s", cfg.Retrieval.Variant)

	if running {
		if c, err := newAPIClient(); err == nil {
			if st, err := fetchStatus(checkCtx, c); err == nil {
				printStatus("Games", "%d", st.Games)
				printStatus("Sessions", "%d", st.Sessions)
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func fetchStatus(ctx context.Context, c *apiClient) (api.StatusResponse, error) {
	var st api.StatusResponse
	resp, err := c.get(ctx, "/v1/status")
	if err != nil {
		return st, err
	}
	return st, decodeJSON(resp, &st)
}
