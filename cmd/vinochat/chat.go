package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/vinochat/internal/assistant"
	"github.com/kalambet/vinochat/internal/catalog"
	"github.com/kalambet/vinochat/internal/config"
	"github.com/kalambet/vinochat/internal/session"
	"github.com/kalambet/vinochat/internal/storage"
)

const consoleHelp = "Команды: /exit, /quit, /clear, /sql on, /sql off, " +
	"/weblog on, /weblog off, /csv on, /csv off, /csv dir <path>"

const consoleIntro = "В базе собраны карточки российских вин: название, производитель, регион, " +
	"урожай, рейтинг, характеристики и рекомендации. Задайте запрос по этим данным."

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the assistant in the console",
	Long: `Chat with the assistant in the console. The assistant runs in-process
against the local catalog; no server is needed.

` + consoleHelp,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		setupLogging(cfg)

		ctx := cmd.Context()
		a, err := openApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		user, _ := cmd.Flags().GetString("user")
		dir, _ := cmd.Flags().GetString("csv-dir")
		if abs, err := filepath.Abs(dir); err == nil {
			dir = abs
		}

		c := newConsole(a.assistant, a.catalog, cmd.OutOrStdout())
		c.user = user
		c.csvDir = dir

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "vinochat | Console mode")
		fmt.Fprintf(out, "DB: %s\n", cfg.Catalog.Path)
		fmt.Fprintf(out, "Records DB: %s\n", a.records.Path())
		fmt.Fprintf(out, "Table: %s\n", cfg.Catalog.Table)
		fmt.Fprintf(out, "%s\n\n%s\n\n", consoleHelp, consoleIntro)

		return c.run(ctx, cmd.InOrStdin())
	},
}

func init() {
	chatCmd.Flags().String("user", storage.DefaultUser, "author name for likes and notes")
	chatCmd.Flags().String("csv-dir", "exports", "directory for CSV exports")
}

type consoleAsker interface {
	Ask(ctx context.Context, t assistant.Turn) (assistant.Result, error)
}

type consoleCatalog interface {
	ExecuteReadOnly(ctx context.Context, raw string, maxRows int) (string, []catalog.Row, error)
	Columns(ctx context.Context) ([]string, error)
}

// console is a single-user chat session on a terminal.
type console struct {
	ask     consoleAsker
	catalog consoleCatalog
	out     io.Writer
	user    string
	sess    *session.Session

	showSQL bool
	showWeb bool
	csvMode bool
	csvDir  string
	now     func() time.Time
}

func newConsole(ask consoleAsker, cat consoleCatalog, out io.Writer) *console {
	return &console{
		ask:     ask,
		catalog: cat,
		out:     out,
		user:    storage.DefaultUser,
		sess:    &session.Session{ID: "console"},
		showSQL: true,
		csvDir:  "exports",
		now:     time.Now,
	}
}

func (c *console) run(ctx context.Context, in io.Reader) error {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		fmt.Fprint(c.out, "Вы> ")
		if !sc.Scan() {
			fmt.Fprintln(c.out, "\nВыход.")
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		exit, handled := c.command(line)
		if exit {
			return nil
		}
		if handled {
			continue
		}
		c.turn(ctx, line)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// command handles a slash command. Anything else is a chat turn.
func (c *console) command(line string) (exit, handled bool) {
	cmd := strings.ToLower(line)
	switch cmd {
	case "/exit", "/quit":
		fmt.Fprintln(c.out, "Выход.")
		return true, true
	case "/clear":
		c.sess.Reset()
		fmt.Fprintln(c.out, "История очищена.")
	case "/sql on":
		c.showSQL = true
		fmt.Fprintln(c.out, "Показ SQL включен.")
	case "/sql off":
		c.showSQL = false
		fmt.Fprintln(c.out, "Показ SQL выключен.")
	case "/weblog on":
		c.showWeb = true
		fmt.Fprintln(c.out, "Подробный лог web tool включен.")
	case "/weblog off":
		c.showWeb = false
		fmt.Fprintln(c.out, "Подробный лог web tool выключен.")
	case "/csv on":
		c.csvMode = true
		fmt.Fprintf(c.out, "CSV-режим включен. Папка: %s\n", c.csvDir)
	case "/csv off":
		c.csvMode = false
		fmt.Fprintln(c.out, "CSV-режим выключен.")
	default:
		if !strings.HasPrefix(cmd, "/csv dir") {
			return false, false
		}
		dir := strings.Trim(strings.TrimSpace(line[len("/csv dir"):]), `"'`)
		if dir == "" {
			fmt.Fprintln(c.out, "Укажите путь: /csv dir <path>")
			return false, true
		}
		if abs, err := filepath.Abs(expandHome(dir)); err == nil {
			dir = abs
		}
		c.csvDir = dir
		fmt.Fprintf(c.out, "Папка для CSV: %s\n", c.csvDir)
	}
	return false, true
}

func (c *console) turn(ctx context.Context, text string) {
	res, err := c.ask.Ask(ctx, assistant.Turn{
		Text:    text,
		History: c.sess.Recent(session.MaxHistory),
		User:    c.user,
		Context: c.sess.Context,
	})
	if err != nil {
		res = assistant.Result{Answer: "Ошибка обработки запроса: " + err.Error()}
	} else {
		res.Meta.Apply(&c.sess.Context)
	}
	c.sess.Append("user", text)
	c.sess.Append("assistant", res.Answer)

	fmt.Fprintf(c.out, "\nБот> %s\n", res.Answer)

	queries := res.Meta.SQLQueries
	if len(queries) == 0 && res.Meta.SQL != "" {
		queries = []string{res.Meta.SQL}
	}
	queries = dedupe(queries)

	if c.showSQL {
		c.printMeta(res.Meta, queries)
	}
	if c.showWeb {
		c.printWebLog(res.Meta.WebToolLogs)
	}
	if c.csvMode && len(queries) > 0 {
		c.exportCSV(ctx, queries)
	}
	fmt.Fprintln(c.out)
}

func (c *console) printMeta(m assistant.Meta, queries []string) {
	pendingMark := "no"
	if c.sess.Context.Pending.Active() {
		pendingMark = "yes"
	}
	fmt.Fprintf(c.out, "[meta] model=%s rows=%d\n", m.Model, m.Rows)
	fmt.Fprintf(c.out, "[context] candidates=%d pending_record_action=%s\n", len(c.sess.Context.Candidates), pendingMark)

	switch {
	case len(queries) > 1:
		fmt.Fprintf(c.out, "[sql] Выполнено запросов: %d\n", len(queries))
		for i, q := range queries {
			fmt.Fprintf(c.out, "[sql#%d] %s\n", i+1, q)
		}
	case len(queries) == 1:
		fmt.Fprintf(c.out, "[sql] %s\n", queries[0])
	}

	web := dedupe(m.WebQueries)
	switch {
	case len(web) > 1:
		fmt.Fprintf(c.out, "[web] Выполнено web-поисков: %d\n", len(web))
		for i, q := range web {
			fmt.Fprintf(c.out, "[web#%d] %s\n", i+1, q)
		}
	case len(web) == 1:
		fmt.Fprintf(c.out, "[web] %s\n", web[0])
	}
}

func (c *console) printWebLog(logs []assistant.WebToolLog) {
	if len(logs) == 0 {
		fmt.Fprintln(c.out, "[weblog] Операции web tool не выполнялись.")
		return
	}
	fmt.Fprintf(c.out, "[weblog] Выполнено web-операций: %d\n", len(logs))
	for i, l := range logs {
		status := "error"
		if l.OK {
			status = "ok"
		}
		fmt.Fprintf(c.out, "[weblog#%d] source=%s status=%s count=%d engine=%q query=%q search_query=%q\n",
			i+1, l.Source, status, l.Count, l.Engine, l.Query, l.SearchQuery)
		if l.Error != "" {
			fmt.Fprintf(c.out, "[weblog#%d.error] %s\n", i+1, l.Error)
		}
		for j, r := range l.Results {
			if r.URL != "" {
				fmt.Fprintf(c.out, "[weblog#%d.result#%d] %s | %s\n", i+1, j+1, r.Title, r.URL)
			}
		}
	}
}

// exportCSV re-runs each executed query with a larger cap and saves the rows.
func (c *console) exportCSV(ctx context.Context, queries []string) {
	order, _ := c.catalog.Columns(ctx)
	if len(queries) > 1 {
		fmt.Fprintf(c.out, "[csv] Найдено SQL-запросов для экспорта: %d\n", len(queries))
	}
	for i, q := range queries {
		_, rows, err := c.catalog.ExecuteReadOnly(ctx, q, csvExportMaxRows)
		if err != nil {
			fmt.Fprintf(c.out, "[csv] Ошибка сохранения CSV: %v\n", err)
			return
		}
		prefix := "query_result"
		if len(queries) > 1 {
			prefix = fmt.Sprintf("query_result_q%02d", i+1)
		}
		path := filepath.Join(c.csvDir, csvFilename(prefix, c.now()))
		fmt.Fprintf(c.out, "[csv] Начинаю запись результатов в файл: %s\n", path)
		written, err := writeRowsCSV(rows, order, path)
		switch {
		case err != nil:
			fmt.Fprintf(c.out, "[csv] Ошибка сохранения CSV: %v\n", err)
			return
		case written:
			fmt.Fprintf(c.out, "[csv] Запись завершена. Строк: %d. Файл: %s\n", len(rows), path)
		default:
			fmt.Fprintln(c.out, "[csv] Запрос не вернул строк, файл не создан.")
		}
	}
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[1:])
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	var out []string
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" || seen[it] {
			continue
		}
		seen[it] = true
		out = append(out, it)
	}
	return out
}
