package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/acencia/atlas/internal/auth"
	"github.com/acencia/atlas/internal/credstore"
	"github.com/acencia/atlas/internal/httpcore"
)

var (
	loginUsername string
	loginPassword string
)

func init() {
	rootCmd.AddCommand(loginCmd)
	loginCmd.Flags().StringVarP(&loginUsername, "username", "u", "", "Backend username")
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "Backend password (prompted when omitted)")
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate against the archive backend and store the session token",
	RunE:  runLogin,
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	in := bufio.NewReader(cmd.InOrStdin())
	if loginUsername == "" {
		fmt.Fprint(os.Stderr, "Username: ")
		line, err := in.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read username: %w", err)
		}
		loginUsername = strings.TrimSpace(line)
	}
	if loginPassword == "" {
		fmt.Fprint(os.Stderr, "Password: ")
		line, err := in.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		loginPassword = strings.TrimRight(line, "\r\n")
	}

	client := httpcore.New(cfg.API.BaseURL)
	session := auth.NewSession(client, credstore.New())
	creds, err := session.Login(cmd.Context(), loginUsername, loginPassword)
	if err != nil {
		return err
	}

	name := loginUsername
	if u, ok := creds.User["username"].(string); ok && u != "" {
		name = u
	}
	fmt.Printf("Logged in as %s (%s)\n", name, cfg.API.BaseURL)
	return nil
}
