package cli

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/acencia/atlas/internal/archive"
	"github.com/acencia/atlas/internal/container"
	"github.com/acencia/atlas/internal/mailbox"
	"github.com/acencia/atlas/internal/pdfsvc"
)

func init() {
	rootCmd.AddCommand(mailCmd)
}

var mailCmd = &cobra.Command{
	Use:   "mail",
	Short: "Fetch unseen mailbox messages and import their attachments",
	Long:  "Connects to the configured IMAP account, pulls every unseen message,\nextracts the attachments and uploads them into eingang. Processed messages\nare flagged seen; unparsable ones stay unseen for manual inspection.",
	RunE:  runMail,
}

func runMail(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Mailbox.Host == "" || cfg.Mailbox.Username == "" {
		return fmt.Errorf("no mailbox configured: set mailbox.host and mailbox.username")
	}
	client, err := newAPIClient(cfg)
	if err != nil {
		return err
	}
	repo := archive.NewRepository(client)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fetcher := mailbox.NewFetcher(mailbox.Config{
		Host:     cfg.Mailbox.Host,
		Port:     cfg.Mailbox.Port,
		Username: cfg.Mailbox.Username,
		Password: cfg.Mailbox.Password,
		Folder:   cfg.Mailbox.Folder,
	})
	msgs, err := fetcher.FetchUnseen()
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		fmt.Println("No new messages.")
		return nil
	}

	tmp, err := os.MkdirTemp("", "atlas_mail_")
	if err != nil {
		return err
	}
	defer func() { _ = os.RemoveAll(tmp) }()

	var paths []string
	for _, m := range msgs {
		for i, a := range m.Attachments {
			name := filepath.Base(a.Filename)
			if name == "" || name == "." {
				name = fmt.Sprintf("anhang_%d", i+1)
			}
			path := filepath.Join(tmp, fmt.Sprintf("%d_%s", m.SeqNum, name))
			if err := os.WriteFile(path, a.Content, 0o600); err != nil {
				fmt.Fprintf(os.Stderr, "write %s: %v\n", name, err)
				continue
			}
			paths = append(paths, path)
		}
	}
	if len(paths) == 0 {
		fmt.Printf("Fetched %d messages, none carried attachments.\n", len(msgs))
		return nil
	}

	pdf := pdfsvc.New()
	passwords, err := repo.Passwords(ctx, "pdf")
	if err != nil {
		fmt.Fprintf(os.Stderr, "password list unavailable: %v\n", err)
	}
	exp := container.NewExpander(pdf.Unlock, passwords)
	defer exp.Cleanup()

	jobs, err := exp.Expand(paths)
	if err != nil {
		fmt.Fprintf(os.Stderr, "expand attachments: %v\n", err)
	}
	uploaded := 0
	for _, job := range jobs {
		doc, err := repo.Upload(ctx, job.Path, archive.UploadOptions{
			SourceType:       archive.SourceManualUpload,
			BoxType:          job.Placement,
			OriginalFilename: job.Name,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "upload %s: %v\n", job.Name, err)
			continue
		}
		uploaded++
		fmt.Printf("Uploaded %s as document %d\n", job.Name, doc.ID)
	}
	fmt.Printf("Imported %d attachments from %d messages.\n", uploaded, len(msgs))
	return nil
}
