package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/glabrego/threadnews-cli/internal/config"
	"github.com/glabrego/threadnews-cli/internal/logging"
	"github.com/glabrego/threadnews-cli/internal/session"
	"github.com/glabrego/threadnews-cli/internal/source"
	"github.com/glabrego/threadnews-cli/internal/storage"
	"github.com/glabrego/threadnews-cli/internal/thread"
	"github.com/glabrego/threadnews-cli/internal/tui"
)

var (
	dbPath  string
	logFile string
)

var rootCmd = &cobra.Command{
	Use:   "threadnews",
	Short: "Offline-capable reader for Hacker News and Lobsters threads",
	Long: `threadnews browses Hacker News and Lobsters as a message tree in the
style of classic usenet clients. Stories, comments, and your read and
starred flags are cached in a local sqlite database, so revisiting a
thread works without a network round-trip.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	rootCmd.Flags().StringVar(&dbPath, "db", "", "path to the cache database (default THREADNEWS_DB_PATH or ~/.threadnews.db)")
	rootCmd.Flags().StringVar(&logFile, "logfile", "", "append debug logs to this file (default THREADNEWS_LOG_FILE)")
}

func run() error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if dbPath != "" {
		cfg.DBPath = config.ExpandHome(dbPath)
	}
	if logFile != "" {
		cfg.LogFile = config.ExpandHome(logFile)
	}

	logger, closeLog, err := logging.Open(cfg.LogFile)
	if err != nil {
		return err
	}
	defer closeLog()

	store, err := storage.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("storage init error: %w", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("storage schema error: %w", err)
	}

	httpClient := &http.Client{Timeout: cfg.RequestTimeout}
	sources := map[string]source.Source{
		source.ProviderHN:       source.NewHN(cfg.HNBaseURL, httpClient),
		source.ProviderLobsters: source.NewLobsters(cfg.LobstersBaseURL, httpClient),
	}

	asm := thread.NewAssembler(store, logging.Component(logger, "assembler"))
	engine := session.NewEngine(store, asm, sources, source.DefaultGroups(), logging.Component(logger, "session"))
	model := tui.NewModel(engine, tui.DefaultKeymap(), int64(cfg.FetchLimit), logging.Component(logger, "tui"))

	logger.Info().Str("db", cfg.DBPath).Msg("starting")
	if _, err := tea.NewProgram(model, tea.WithAltScreen()).Run(); err != nil {
		return fmt.Errorf("tui error: %w", err)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
