package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/acencia/atlas/internal/archive"
	"github.com/acencia/atlas/internal/bipro"
	"github.com/acencia/atlas/internal/config"
)

var (
	biproVU       string
	biproFetchOut string
	biproFetchAck bool
)

func init() {
	rootCmd.AddCommand(biproCmd)
	biproCmd.PersistentFlags().StringVar(&biproVU, "vu", "", "Insurer connection from the config (default: first entry)")
	biproCmd.AddCommand(biproTestCmd, biproListCmd, biproFetchCmd, biproAckCmd)
	biproFetchCmd.Flags().StringVar(&biproFetchOut, "out", "", "Save shipment documents to this directory instead of uploading")
	biproFetchCmd.Flags().BoolVar(&biproFetchAck, "ack", false, "Acknowledge each shipment after a successful fetch")
}

var biproCmd = &cobra.Command{
	Use:   "bipro",
	Short: "Talk to an insurer's BiPRO 430 transfer service",
}

var biproTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Verify the connection, credentials and token flow",
	RunE:  runBiproTest,
}

var biproListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available shipments without confirming them",
	RunE:  runBiproList,
}

var biproFetchCmd = &cobra.Command{
	Use:   "fetch [shipment-id...]",
	Short: "Download shipments and upload their documents into eingang",
	RunE:  runBiproFetch,
}

var biproAckCmd = &cobra.Command{
	Use:   "ack <shipment-id...>",
	Short: "Acknowledge shipments so the insurer stops listing them",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runBiproAck,
}

// biproClient resolves the requested connection from the config and dials
// it. The caller must Shutdown the client to drop temp key material.
func biproClient(cfg *config.Config) (*bipro.Client, error) {
	if len(cfg.Bipro) == 0 {
		return nil, fmt.Errorf("no bipro connections configured")
	}
	conn := cfg.Bipro[0]
	if biproVU != "" {
		found := false
		for _, c := range cfg.Bipro {
			if c.VUName == biproVU {
				conn, found = c, true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("no bipro connection named %q in the config", biproVU)
		}
	}
	return bipro.New(bipro.Config{
		Endpoint:   conn.Endpoint,
		STSURL:     conn.STSURL,
		VUName:     conn.VUName,
		ConsumerID: conn.ConsumerID,
		Credentials: bipro.Credentials{
			Username:       conn.Username,
			Password:       conn.Password,
			PFXPath:        conn.PFXPath,
			PFXPassword:    conn.PFXPassword,
			JKSPath:        conn.JKSPath,
			JKSPassword:    conn.JKSPassword,
			JKSAlias:       conn.JKSAlias,
			JKSKeyPassword: conn.JKSKeyPassword,
			CertPEMPath:    conn.CertPEMPath,
			KeyPEMPath:     conn.KeyPEMPath,
		},
	})
}

func runBiproTest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := biproClient(cfg)
	if err != nil {
		return err
	}
	defer client.Shutdown()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := client.TestConnection(ctx); err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	fmt.Printf("Connection to %s OK (profile %s).\n", client.VUName(), client.ProfileName())
	return nil
}

func runBiproList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := biproClient(cfg)
	if err != nil {
		return err
	}
	defer client.Shutdown()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shipments, err := client.ListShipments(ctx, false)
	if err != nil {
		return err
	}
	if len(shipments) == 0 {
		fmt.Println("No pending shipments.")
		return nil
	}
	for _, s := range shipments {
		fmt.Printf("%-20s %-12s %-30s %s\n", s.ID, s.Category, s.Subject, s.CreatedAt)
	}
	fmt.Printf("%d shipments pending.\n", len(shipments))
	return nil
}

func runBiproFetch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := biproClient(cfg)
	if err != nil {
		return err
	}
	defer client.Shutdown()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ids := args
	if len(ids) == 0 {
		shipments, err := client.ListShipments(ctx, false)
		if err != nil {
			return err
		}
		for _, s := range shipments {
			ids = append(ids, s.ID)
		}
	}
	if len(ids) == 0 {
		fmt.Println("No pending shipments.")
		return nil
	}

	var repo *archive.Repository
	if biproFetchOut == "" {
		apiClient, err := newAPIClient(cfg)
		if err != nil {
			return err
		}
		repo = archive.NewRepository(apiClient)
	} else if err := os.MkdirAll(biproFetchOut, 0o755); err != nil {
		return err
	}

	for _, id := range ids {
		if err := fetchShipment(ctx, client, repo, id); err != nil {
			fmt.Fprintf(os.Stderr, "shipment %s: %v\n", id, err)
			continue
		}
		if biproFetchAck {
			if err := client.AcknowledgeShipment(ctx, id); err != nil {
				fmt.Fprintf(os.Stderr, "acknowledge %s: %v\n", id, err)
			}
		}
	}
	return nil
}

func fetchShipment(ctx context.Context, client *bipro.Client, repo *archive.Repository, id string) error {
	content, err := client.GetShipment(ctx, id)
	if err != nil {
		return err
	}
	if len(content.Documents) == 0 {
		fmt.Printf("Shipment %s carries no documents.\n", id)
		return nil
	}

	if repo == nil {
		for _, doc := range content.Documents {
			target := filepath.Join(biproFetchOut, doc.Filename)
			if err := os.WriteFile(target, doc.Content, 0o600); err != nil {
				return err
			}
			fmt.Printf("Saved %s (%d bytes)\n", target, len(doc.Content))
		}
		return nil
	}

	tmp, err := os.MkdirTemp("", "atlas_bipro_")
	if err != nil {
		return err
	}
	defer func() { _ = os.RemoveAll(tmp) }()

	for i, doc := range content.Documents {
		path := filepath.Join(tmp, doc.Filename)
		if err := os.WriteFile(path, doc.Content, 0o600); err != nil {
			return err
		}
		uploaded, err := repo.Upload(ctx, path, archive.UploadOptions{
			SourceType:         archive.SourceBiproAuto,
			BoxType:            archive.BoxEingang,
			VUName:             client.VUName(),
			ExternalShipmentID: id,
			BiproDocumentID:    fmt.Sprintf("%s/%d", id, i+1),
			OriginalFilename:   doc.Filename,
		})
		if err != nil {
			return fmt.Errorf("upload %s: %w", doc.Filename, err)
		}
		fmt.Printf("Uploaded %s as document %d\n", doc.Filename, uploaded.ID)
	}
	return nil
}

func runBiproAck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := biproClient(cfg)
	if err != nil {
		return err
	}
	defer client.Shutdown()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for _, id := range args {
		if err := client.AcknowledgeShipment(ctx, id); err != nil {
			fmt.Fprintf(os.Stderr, "acknowledge %s: %v\n", id, err)
			continue
		}
		fmt.Printf("Acknowledged %s\n", id)
	}
	return nil
}
