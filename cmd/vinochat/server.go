package main

import (
	"context"
	"encoding/json"
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

	"github.com/kalambet/vinochat/internal/api"
	"github.com/kalambet/vinochat/internal/config"
	"github.com/kalambet/vinochat/internal/session"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the vinochat server (foreground)",
	Long: `Start the HTTP server in the foreground.

With --mcp the MCP server is also served on stdin/stdout, and the process
exits when the MCP client closes stdin.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running vinochat server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show vinochat status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	startCmd.Flags().Bool("mcp", false, "also serve MCP on stdio")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "vinochat.pid")
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

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "vinochat version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}
	setupLogging(cfg)

	// Refuse to start twice on the same port.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(serverURL(cfg) + "/health"); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing stores: %v\n", err)
		}
	}()

	handler := api.NewAppHandler(api.AppDeps{
		Assistant:          a.assistant,
		Catalog:            a.catalog,
		Records:            a.records,
		Sessions:           session.New(cfg.Session.TTLDuration()),
		Perf:               a.perf,
		ExternalUserHeader: cfg.Server.ExternalUserHeader,
		RateLimitRPS:       cfg.Server.RateLimitRPS,
		RateLimitBurst:     cfg.Server.RateLimitBurst,
	})

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "vinochat listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Assistant: a.assistant,
			Catalog:   a.catalog,
			Records:   a.records,
		})
		g.Go(func() error {
			slog.Info("MCP server started (stdio transport)")
			err := server.NewStdioServer(mcpSrv).Listen(gctx, os.Stdin, os.Stdout)
			// The client is gone once stdin closes.
			stop()
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("MCP stdio server: %w", err)
			}
			return nil
		})
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
		printError("vinochat is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop vinochat (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to vinochat (PID %d)", pid)
	return nil
}

// healthInfo is the subset of GET /health shown by status.
type healthInfo struct {
	OK             bool   `json:"ok"`
	DB             string `json:"db"`
	Table          string `json:"table"`
	Columns        int    `json:"columns"`
	RecordsDB      string `json:"records_db"`
	PerfLogEnabled bool   `json:"perf_log_enabled"`
	PerfLogPath    string `json:"perf_log_path"`
	Error          string `json:"error"`
}

func fetchHealth(client *http.Client, baseURL string) (healthInfo, int, error) {
	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		return healthInfo{}, 0, err
	}
	defer resp.Body.Close()

	var h healthInfo
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return healthInfo{}, resp.StatusCode, fmt.Errorf("decoding health: %w", err)
	}
	return h, resp.StatusCode, nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	h, code, err := fetchHealth(client, serverURL(cfg))
	switch {
	case err != nil && code == 0:
		printStatus("Server", "stopped")
	case err != nil:
		printStatus("Server", "error (HTTP %d)", code)
	case code == http.StatusOK:
		printStatus("Server", "running on %s:%d", cfg.Server.Host, cfg.Server.Port)
		printStatus("Catalog", "%s (%s, %d columns)", h.DB, h.Table, h.Columns)
		printStatus("Records DB", "%s", h.RecordsDB)
		printStatus("Perf log", "%s", enabledLabel(h.PerfLogEnabled, h.PerfLogPath))
	default:
		printStatus("Server", "error (HTTP %d): %s", code, h.Error)
	}

	printStatus("Fast model", "%s", cfg.LLM.FastModel)
	printStatus("Complex model", "%s", cfg.LLM.ComplexModel)
	printStatus("API key", "%s", setLabel(cfg.LLM.APIKey != ""))
	printStatus("Web search", "%s", enabledLabel(cfg.Search.Enabled, cfg.Search.Model))
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func enabledLabel(enabled bool, detail string) string {
	if !enabled {
		return "disabled"
	}
	if detail == "" {
		return "enabled"
	}
	return "enabled (" + detail + ")"
}

func setLabel(set bool) string {
	if set {
		return "set"
	}
	return "not set"
}
