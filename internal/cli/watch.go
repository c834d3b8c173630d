package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/acencia/atlas/internal/archive"
	"github.com/acencia/atlas/internal/container"
	"github.com/acencia/atlas/internal/pdfsvc"
)

var watchDebounce time.Duration

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 0, "Quiet period before a dropped batch is uploaded (default from config)")
}

var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Watch a drop directory and upload new files into eingang",
	Long:  "Files dropped into the directory are collected until the debounce window\npasses, then containers are unpacked and everything is uploaded. ZIP and MSG\ncontainers are expanded; images become single-page PDFs.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dir := cfg.Watch.Dir
	if len(args) == 1 {
		dir = args[0]
	}
	if dir == "" {
		return fmt.Errorf("no watch directory: pass one or set watch.dir in the config")
	}
	debounce := watchDebounce
	if debounce <= 0 {
		debounce = cfg.Watch.Debounce
	}

	client, err := newAPIClient(cfg)
	if err != nil {
		return err
	}
	repo := archive.NewRepository(client)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pdf := pdfsvc.New()
	passwords, err := repo.Passwords(ctx, "pdf")
	if err != nil {
		fmt.Fprintf(os.Stderr, "password list unavailable: %v\n", err)
	}
	exp := container.NewExpander(pdf.Unlock, passwords)
	defer exp.Cleanup()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	fmt.Fprintf(os.Stderr, "Watching %s (debounce %s). Ctrl-C stops.\n", dir, debounce)

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := map[string]struct{}{}

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			base := filepath.Base(ev.Name)
			if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
				continue
			}
			pending[ev.Name] = struct{}{}
			timer.Reset(debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "watch error: %v\n", err)

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			paths := make([]string, 0, len(pending))
			for p := range pending {
				if fi, err := os.Stat(p); err != nil || fi.IsDir() {
					continue
				}
				paths = append(paths, p)
			}
			pending = map[string]struct{}{}
			uploadDropped(ctx, repo, exp, paths)

		case <-ctx.Done():
			return nil
		}
	}
}

// uploadDropped expands the dropped paths and uploads every resulting job.
// Per-file failures are logged so one bad container never stops the watcher.
func uploadDropped(ctx context.Context, repo *archive.Repository, exp *container.Expander, paths []string) {
	jobs, err := exp.Expand(paths)
	if err != nil {
		fmt.Fprintf(os.Stderr, "expand dropped files: %v\n", err)
	}
	for _, job := range jobs {
		doc, err := repo.Upload(ctx, job.Path, archive.UploadOptions{
			SourceType:       archive.SourceScan,
			BoxType:          job.Placement,
			OriginalFilename: job.Name,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "upload %s: %v\n", job.Name, err)
			continue
		}
		fmt.Printf("Uploaded %s as document %d (%s)\n", job.Name, doc.ID, job.Placement)
	}
	exp.Cleanup()
}
