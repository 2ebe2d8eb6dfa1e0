// Command sheetcalc is a workbook calculator over a local document
// store. it evaluates scratch formulas and reads and writes persisted
// documents.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Cube-Core-Pro/sheet-engine/packages/cache"
	"github.com/Cube-Core-Pro/sheet-engine/packages/docstore"
	"github.com/Cube-Core-Pro/sheet-engine/packages/service"
	"github.com/Cube-Core-Pro/sheet-engine/packages/spreadsheet"
)

type storeConfig struct {
	Path       string `yaml:"path"`
	SyncWrites bool   `yaml:"sync_writes"`
}

type appConfig struct {
	Store    storeConfig `yaml:"store"`
	LogLevel string      `yaml:"log_level"`
	CacheTTL string      `yaml:"cache_ttl"`
}

func defaultAppConfig() appConfig {
	return appConfig{
		Store:    storeConfig{Path: "sheetcalc-data", SyncWrites: true},
		LogLevel: "info",
		CacheTTL: "5m",
	}
}

func (c appConfig) cacheTTL() (time.Duration, error) {
	if c.CacheTTL == "" {
		return 5 * time.Minute, nil
	}
	ttl, err := time.ParseDuration(c.CacheTTL)
	if err != nil {
		return 0, fmt.Errorf("parsing cache_ttl %q: %w", c.CacheTTL, err)
	}
	return ttl, nil
}

func loadAppConfig(path string) (appConfig, error) {
	cfg := defaultAppConfig()
	if path == "" {
		return cfg, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

func newService(cfg appConfig) (*service.DocumentService, func(), error) {
	logger := newLogger(cfg.LogLevel)
	ttl, err := cfg.cacheTTL()
	if err != nil {
		return nil, nil, err
	}
	store, err := docstore.Open(docstore.Config{
		Path:       cfg.Store.Path,
		SyncWrites: cfg.Store.SyncWrites,
		Logger:     logger,
	})
	if err != nil {
		return nil, nil, err
	}
	svc, err := service.NewDocumentService(service.Options{
		Store:    store,
		Cache:    cache.NewMemoryCache(),
		Logger:   logger,
		CacheTTL: ttl,
	})
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	cleanup := func() { store.Close() }
	return svc, cleanup, nil
}

// parseInput turns a command line value into a cell input. a leading
// "=" marks a formula, numbers and booleans are detected, everything
// else is text.
func parseInput(raw string) spreadsheet.CellInput {
	if strings.HasPrefix(raw, "=") {
		return spreadsheet.CellInput{Formula: raw}
	}
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return spreadsheet.CellInput{Value: n}
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return spreadsheet.CellInput{Value: b}
	}
	return spreadsheet.CellInput{Value: raw}
}

func formatValue(v spreadsheet.Primitive) string {
	switch t := v.(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strings.ToUpper(strconv.FormatBool(t))
	case *spreadsheet.CellError:
		return t.Label()
	default:
		return fmt.Sprintf("%v", t)
	}
}

func newEvalCommand() *cobra.Command {
	var sets []string
	var gets []string
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate formulas on a scratch workbook",
		Example: `  sheetcalc eval --set A1=2 --set B1="=A1*10" --get B1
  sheetcalc eval --set A1=1 --set A2=2 --set A3="=SUM(A1:A2)" --get A3`,
		RunE: func(cmd *cobra.Command, args []string) error {
			wb := spreadsheet.NewWorkbook()
			sheet := wb.ActiveSheet()
			for _, pair := range sets {
				ref, raw, ok := strings.Cut(pair, "=")
				if !ok {
					return fmt.Errorf("invalid --set %q, expected ADDR=VALUE", pair)
				}
				if err := wb.SetCell(sheet, ref, parseInput(raw)); err != nil {
					return err
				}
			}
			for _, ref := range gets {
				v, err := wb.GetValue(sheet, ref)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", strings.ToUpper(ref), formatValue(v))
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&sets, "set", nil, "cell edit as ADDR=VALUE, repeatable")
	cmd.Flags().StringArrayVar(&gets, "get", nil, "cell to print after evaluation, repeatable")
	return cmd
}

func newCreateCommand(cfg *appConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "create DOC",
		Short: "Create a new document in the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := newService(*cfg)
			if err != nil {
				return err
			}
			defer cleanup()
			return svc.Create(context.Background(), args[0])
		},
	}
}

func newOpenCommand(cfg *appConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "open DOC",
		Short: "Open a stored document and list its sheets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := newService(*cfg)
			if err != nil {
				return err
			}
			defer cleanup()
			ctx := context.Background()
			if err := svc.Open(ctx, args[0]); err != nil {
				return err
			}
			ids, err := svc.SheetIDs(args[0])
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
}

func newPutCommand(cfg *appConfig) *cobra.Command {
	var sheetName string
	cmd := &cobra.Command{
		Use:   "put DOC ADDR VALUE",
		Short: "Write a cell in a stored document",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := newService(*cfg)
			if err != nil {
				return err
			}
			defer cleanup()
			ctx := context.Background()
			if err := svc.Open(ctx, args[0]); err != nil {
				return err
			}
			sheetID, err := resolveSheet(svc, args[0], sheetName)
			if err != nil {
				return err
			}
			return svc.SetCell(ctx, args[0], sheetID, args[1], parseInput(args[2]))
		},
	}
	cmd.Flags().StringVar(&sheetName, "sheet", "", "sheet name, defaults to the first sheet")
	return cmd
}

func newGetCommand(cfg *appConfig) *cobra.Command {
	var sheetName string
	var showFormula bool
	cmd := &cobra.Command{
		Use:   "get DOC ADDR",
		Short: "Read a cell from a stored document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := newService(*cfg)
			if err != nil {
				return err
			}
			defer cleanup()
			ctx := context.Background()
			if err := svc.Open(ctx, args[0]); err != nil {
				return err
			}
			sheetID, err := resolveSheet(svc, args[0], sheetName)
			if err != nil {
				return err
			}
			cv, err := svc.GetCell(args[0], sheetID, args[1])
			if err != nil {
				return err
			}
			if showFormula && cv.Formula != "" {
				fmt.Fprintln(cmd.OutOrStdout(), cv.Formula)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatValue(cv.Value))
			return nil
		},
	}
	cmd.Flags().StringVar(&sheetName, "sheet", "", "sheet name, defaults to the first sheet")
	cmd.Flags().BoolVar(&showFormula, "formula", false, "print the formula text instead of the value")
	return cmd
}

func resolveSheet(svc *service.DocumentService, docID, name string) (string, error) {
	if name != "" {
		return svc.SheetIDByName(docID, name)
	}
	ids, err := svc.SheetIDs(docID)
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

func main() {
	cfg := defaultAppConfig()
	var configPath string
	root := &cobra.Command{
		Use:           "sheetcalc",
		Short:         "Spreadsheet calculation engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := loadAppConfig(configPath)
			if err != nil {
				return err
			}
			cfg = loaded
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a yaml config file")
	root.AddCommand(newEvalCommand())
	root.AddCommand(newCreateCommand(&cfg))
	root.AddCommand(newOpenCommand(&cfg))
	root.AddCommand(newPutCommand(&cfg))
	root.AddCommand(newGetCommand(&cfg))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "sheetcalc:", err)
		os.Exit(1)
	}
}
