package cli

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/acencia/atlas/internal/archive"
	"github.com/acencia/atlas/internal/batch"
	"github.com/acencia/atlas/internal/classify"
	"github.com/acencia/atlas/internal/config"
	"github.com/acencia/atlas/internal/llm"
	"github.com/acencia/atlas/internal/localcache"
	"github.com/acencia/atlas/internal/pdfsvc"
	"github.com/acencia/atlas/internal/rules"
)

var processWorkers int

func init() {
	rootCmd.AddCommand(processCmd)
	processCmd.Flags().IntVar(&processWorkers, "workers", 0, "Parallel workers (default from config)")
}

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Classify and archive every pending document in eingang",
	Long:  "Runs the full batch pipeline: loads the server-side AI and rule settings,\nclassifies each eingang document through the rule/LLM ladder, applies the\nduplicate and empty-page policies and reports the batch cost.",
	RunE:  runProcess,
}

func runProcess(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := newAPIClient(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// LoadSettings falls back to the built-in defaults on error; a down
	// settings API must not abort the batch.
	aiSettings, ruleSettings, err := batch.LoadSettings(ctx, client)
	if err != nil {
		fmt.Fprintf(os.Stderr, "processing settings unavailable, using defaults: %v\n", err)
	}

	store, err := classify.OpenStore(cacheDBPath(cfg))
	if err != nil {
		return fmt.Errorf("open classification cache: %w", err)
	}
	defer func() { _ = store.Close() }()
	cache := classify.NewCache(store)
	if entries, err := store.LoadAll(); err == nil {
		cache.Preload(entries)
	} else {
		fmt.Fprintf(os.Stderr, "classification cache not preloaded: %v\n", err)
	}

	repo := archive.NewRepository(client)
	pdf := pdfsvc.New()
	ai := llm.New(llm.Config{
		APIURL:    cfg.AI.APIURL,
		APIKey:    cfg.AI.APIKey,
		Model:     cfg.AI.Model,
		MiniModel: cfg.AI.MiniModel,
		MaxTokens: cfg.AI.MaxTokens,
	})

	boxes := localcache.New(repo, cfg.Processing.RefreshInterval, localcache.Events{})
	boxes.Start(ctx)
	defer boxes.Stop()

	post := rules.New(repo, &rules.PDFRemover{PDF: pdf}, ruleSettings)
	engine := classify.NewEngine(repo, pdf, ai, cache, classify.Options{
		Settings:       aiSettings,
		RawXMLPatterns: cfg.Processing.RawXMLPatterns,
		Post:           post,
		Invalidate: func(docID int64) {
			boxes.Invalidate(archive.TargetBoxes...)
		},
	})

	workers := processWorkers
	if workers == 0 {
		workers = cfg.Processing.MaxWorkers
	}
	opts := []batch.Option{
		batch.WithMaxWorkers(workers),
		batch.WithCache(boxes),
	}
	if cfg.AI.Provider == "openrouter" && cfg.AI.APIKey != "" {
		opts = append(opts, batch.WithCredits(&batch.OpenRouterCredits{APIKey: cfg.AI.APIKey}))
	}
	orch := batch.New(repo, engine, opts...)

	res, reconciled, err := orch.ProcessInbox(ctx, func(completed, total int, message string) {
		fmt.Fprintf(os.Stderr, "[%d/%d] %s\n", completed, total, message)
	})
	if err != nil {
		return err
	}
	if res.Total == 0 {
		fmt.Println("Nothing to process: eingang is empty.")
		return nil
	}

	fmt.Printf("Processed %d documents in %.1fs: %d filed, %d in sonstige or failed.\n",
		res.Total, res.DurationSeconds, res.SuccessCount, res.FailureCount)
	if res.TotalCostUSD > 0 {
		fmt.Printf("LLM cost: $%.4f total, $%.4f per document (%s).\n",
			res.TotalCostUSD, res.CostPerDocumentUSD, res.Provider)
	}

	// Wait for the delayed cost reconciliation so the batch history row is
	// final before the process exits.
	select {
	case <-reconciled:
	case <-ctx.Done():
	}
	return nil
}

func cacheDBPath(cfg *config.Config) string {
	if cfg.Processing.CacheDBPath != "" {
		return cfg.Processing.CacheDBPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "atlas_classifications.db")
	}
	dir := filepath.Join(home, ".atlas")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return filepath.Join(os.TempDir(), "atlas_classifications.db")
	}
	return filepath.Join(dir, "classifications.db")
}
