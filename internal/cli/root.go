// Package cli is the atlas command surface: login, batch processing, the
// drop-directory and mailbox ingestion modes and the BiPRO transfer tools.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/acencia/atlas/internal/auth"
	"github.com/acencia/atlas/internal/config"
	"github.com/acencia/atlas/internal/credstore"
	"github.com/acencia/atlas/internal/httpcore"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "atlas",
	Short: "Document pipeline for the ACENCIA insurance archive",
	Long:  "Pulls insurer shipments over BiPRO, watches drop directories and mailboxes,\nclassifies documents through rule and LLM stages and files them into the archive.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config YAML (default: ~/.atlas/config.yaml)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

// newAPIClient builds the backend client armed with the stored token and
// the 401-refresh / forced-logout callbacks. Commands that talk to the
// archive require a prior `atlas login`.
func newAPIClient(cfg *config.Config) (*httpcore.Client, error) {
	store := credstore.New()
	creds, err := store.Load()
	if err != nil {
		if errors.Is(err, credstore.ErrNotFound) {
			return nil, fmt.Errorf("not logged in: run `atlas login` first")
		}
		return nil, err
	}

	var session *auth.Session
	client := httpcore.New(cfg.API.BaseURL,
		httpcore.WithToken(creds.Token),
		httpcore.WithRefresh(func(ctx context.Context) (string, error) {
			return session.Refresh(ctx)
		}),
		httpcore.WithLogout(func(reason string) {
			fmt.Fprintf(os.Stderr, "session expired: %s\n", reason)
		}),
	)
	session = auth.NewSession(client, store)
	return client, nil
}
