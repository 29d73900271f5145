package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/vinochat/internal/assistant"
	"github.com/kalambet/vinochat/internal/catalog"
	"github.com/kalambet/vinochat/internal/config"
	"github.com/kalambet/vinochat/internal/perflog"
	"github.com/kalambet/vinochat/internal/proxy"
	"github.com/kalambet/vinochat/internal/sqlguard"
	"github.com/kalambet/vinochat/internal/storage"
)

// --- records ---

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Add and read public likes and notes (needs a running server)",
}

type recordResponse struct {
	OK         bool           `json:"ok"`
	Record     storage.Record `json:"record"`
	UserSource string         `json:"user_source"`
}

type recordsResponse struct {
	OK      bool             `json:"ok"`
	Summary *storage.Summary `json:"summary"`
	Count   int              `json:"count"`
	Records []storage.Record `json:"records"`
}

var recordsAddCmd = &cobra.Command{
	Use:   "add <wine_id> <like|note> [content...]",
	Short: "Add a like or a note to a catalog wine",
	Long: `Add a like or a note to a catalog wine.

Examples:
  vinochat records add 101 like
  vinochat records add 101 note "к утке с яблоками" --user Анна`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		ext, _ := cmd.Flags().GetString("external-user-id")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		rec, err := addRecord(cmd.Context(), client, map[string]any{
			"wine_id":          args[0],
			"record_type":      args[1],
			"content":          strings.Join(args[2:], " "),
			"user":             user,
			"external_user_id": ext,
		})
		if err != nil {
			return err
		}
		printSuccess("Saved %s #%d for wine %s by %s", rec.RecordType, rec.ID, rec.WineID, rec.User)
		return nil
	},
}

func addRecord(ctx context.Context, client *apiClient, body map[string]any) (storage.Record, error) {
	resp, err := client.post(ctx, "/api/records", body)
	if err != nil {
		return storage.Record{}, err
	}
	var result recordResponse
	if err := decodeJSON(resp, &result); err != nil {
		return storage.Record{}, err
	}
	return result.Record, nil
}

var recordsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List likes and notes, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		for _, name := range []string{"wine_id", "record_type", "user"} {
			if v, _ := cmd.Flags().GetString(strings.ReplaceAll(name, "_", "-")); v != "" {
				q.Set(name, v)
			}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		result, err := listRecords(cmd.Context(), client, "/api/records", q)
		if err != nil {
			return err
		}
		printRecords(cmd.OutOrStdout(), result.Records)
		return nil
	},
}

var recordsSummaryCmd = &cobra.Command{
	Use:   "summary <wine_id>",
	Short: "Count likes and notes of a wine and list them",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		result, err := listRecords(cmd.Context(), client, byWinePath(args[0]), nil)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if s := result.Summary; s != nil {
			fmt.Fprintf(out, "%s  likes: %d  notes: %d\n", colorize(colorBold, s.WineID), s.LikeCount, s.NoteCount)
		}
		printRecords(out, result.Records)
		return nil
	},
}

// byWinePath keeps slashes so that url ids reach the wildcard route intact.
func byWinePath(wineID string) string {
	return "/api/records/by-wine/" + (&url.URL{Path: strings.TrimSpace(wineID)}).EscapedPath()
}

func listRecords(ctx context.Context, client *apiClient, path string, q url.Values) (recordsResponse, error) {
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	resp, err := client.get(ctx, path)
	if err != nil {
		return recordsResponse{}, err
	}
	var result recordsResponse
	if err := decodeJSON(resp, &result); err != nil {
		return recordsResponse{}, err
	}
	return result, nil
}

func printRecords(w io.Writer, records []storage.Record) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No records found.")
		return
	}
	for _, r := range records {
		content := r.Content
		if r.RecordType == storage.TypeLike && content == storage.LikeContent {
			content = ""
		}
		fmt.Fprintf(w, "%s  %s  %-4s  %s  %s  %s\n",
			colorize(colorCyan, fmt.Sprintf("#%d", r.ID)),
			r.CreatedAt.Local().Format(time.DateTime),
			r.RecordType,
			r.WineID,
			r.User,
			content,
		)
	}
}

func init() {
	recordsAddCmd.Flags().String("user", "", "author name (default: Гость)")
	recordsAddCmd.Flags().String("external-user-id", "", "external user id, stored as ext:<id>")
	recordsListCmd.Flags().String("wine-id", "", "filter by wine")
	recordsListCmd.Flags().String("record-type", "", "filter by type: like or note")
	recordsListCmd.Flags().String("user", "", "filter by author")

	recordsCmd.AddCommand(recordsAddCmd)
	recordsCmd.AddCommand(recordsListCmd)
	recordsCmd.AddCommand(recordsSummaryCmd)
}

// --- sql ---

var sqlCmd = &cobra.Command{
	Use:   "sql <query>",
	Short: "Run a read-only query against the local catalog and print JSON",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		maxRows, _ := cmd.Flags().GetInt("max-rows")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		cat, err := catalog.Open(cfg.Catalog.Path, cfg.Catalog.Table)
		if err != nil {
			return fmt.Errorf("opening catalog: %w", err)
		}
		defer cat.Close()

		return runSQL(cmd.Context(), cat, strings.Join(args, " "), maxRows, cmd.OutOrStdout())
	},
}

type sqlRunner interface {
	ExecuteReadOnly(ctx context.Context, raw string, maxRows int) (string, []catalog.Row, error)
}

func runSQL(ctx context.Context, cat sqlRunner, query string, maxRows int, w io.Writer) error {
	safe, rows, err := cat.ExecuteReadOnly(ctx, query, maxRows)
	if err != nil {
		var verr *sqlguard.ValidationError
		if errors.As(err, &verr) {
			return fmt.Errorf("SQL отклонен: %s", verr.Message)
		}
		return err
	}
	if rows == nil {
		rows = []catalog.Row{}
	}
	return printJSON(w, map[string]any{
		"safe_sql":  safe,
		"row_count": len(rows),
		"rows":      rows,
	})
}

func init() {
	sqlCmd.Flags().Int("max-rows", assistant.MaxSQLRows, "maximum number of rows")
}

// --- perf ---

var perfCmd = &cobra.Command{
	Use:   "perf",
	Short: "Inspect the performance log",
}

var perfTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print the newest perf log events",
	RunE: func(cmd *cobra.Command, args []string) error {
		lines, _ := cmd.Flags().GetInt("lines")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if !cfg.Perf.Enabled {
			printWarning("perf log is disabled (perf.enabled=false)")
		}
		events, err := perflog.New(cfg.Perf.Path, true).Tail(lines)
		if err != nil {
			return fmt.Errorf("reading %s: %w", cfg.Perf.Path, err)
		}
		if len(events) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No events.")
			return nil
		}
		for _, e := range events {
			fmt.Fprintln(cmd.OutOrStdout(), e)
		}
		return nil
	},
}

func init() {
	perfTailCmd.Flags().Int("lines", perflog.DefaultTailLines, "number of events")
	perfCmd.AddCommand(perfTailCmd)
}

// --- models ---

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List models available to the configured API key",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		client := proxy.NewClientWithBaseURL(cfg.LLM.APIKey, cfg.LLM.BaseURL)
		models, err := client.ListModels(cmd.Context())
		if err != nil {
			return fmt.Errorf("listing models: %w", err)
		}
		printModels(cmd.OutOrStdout(), models, cfg.LLM.FastModel, cfg.LLM.ComplexModel)
		return nil
	},
}

func printModels(w io.Writer, models []proxy.Model, fast, complexModel string) {
	ids := make([]string, 0, len(models))
	for _, m := range models {
		ids = append(ids, m.ID)
	}
	sort.Strings(ids)
	for _, id := range ids {
		switch id {
		case fast:
			fmt.Fprintf(w, "%s  %s\n", id, colorize(colorGreen, "(fast)"))
		case complexModel:
			fmt.Fprintf(w, "%s  %s\n", id, colorize(colorGreen, "(complex)"))
		default:
			fmt.Fprintln(w, id)
		}
	}
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "$"+k.EnvVar))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return fmt.Errorf("%w\nvalid keys: %s", err, strings.Join(config.ValidKeys(), ", "))
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configSetSecretCmd = &cobra.Command{
	Use:   "set-secret [api_key]",
	Short: "Store the OpenAI API key in the platform secret store",
	Long: `Store the OpenAI API key in the platform secret store.
Without an argument the key is read from stdin.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		value := ""
		if len(args) == 1 {
			value = args[0]
		} else {
			printStep("Paste the API key and press Enter")
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				return err
			}
			value = line
		}
		if err := config.SetSecret(value); err != nil {
			return err
		}
		printSuccess("API key stored")
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configSetSecretCmd)
}
