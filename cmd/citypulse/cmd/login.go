package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/urbanpulse/citypulse/internal/auth"
)

// loginCmd stores a platform token for later runs
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store a platform bearer token",
	Long: `Store a platform bearer token in the per-user token file.

The daemon resolves its token from the CITYPULSE_TOKEN environment
variable first, then the config file, then this file. The token is
prompted rather than taken as an argument so it stays out of shell
history.

Example:
  citypulse login`,
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := promptToken("Platform token: ")
		if err != nil {
			return fmt.Errorf("read token: %w", err)
		}
		if token == "" {
			return fmt.Errorf("token is empty")
		}

		path, err := tokenFilePath()
		if err != nil {
			return err
		}
		if err := auth.StoreToken(path, token); err != nil {
			return fmt.Errorf("store token: %w", err)
		}
		fmt.Printf("Token stored in %s\n", path)

		// Show who the token says we are. Absent or odd claims are fine;
		// the platform is the one that verifies.
		info, err := auth.DecodeClaims(token)
		if err != nil {
			fmt.Println("Note: token is not a decodable JWT, storing it anyway.")
			return nil
		}
		if info.Subject != "" {
			fmt.Printf("Subject: %s\n", info.Subject)
		}
		if info.Role != "" {
			fmt.Printf("Role:    %s\n", info.Role)
		}
		if !info.ExpiresAt.IsZero() {
			fmt.Printf("Expires: %s\n", info.ExpiresAt.Format(time.RFC3339))
			if info.Expired(time.Now()) {
				fmt.Println("Warning: this token is already expired.")
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
}

// tokenFilePath resolves where the token lives: the config file's setting
// when one is given, otherwise the per-user default.
func tokenFilePath() (string, error) {
	if configFile != "" {
		if cfg, err := LoadConfig(configFile); err == nil && cfg.Platform.TokenFile != "" {
			return cfg.Platform.TokenFile, nil
		}
	}
	path, err := auth.DefaultTokenPath()
	if err != nil {
		return "", fmt.Errorf("resolve token path: %w", err)
	}
	return path, nil
}

// promptToken reads a secret without echo when stdin is a terminal.
func promptToken(prompt string) (string, error) {
	fmt.Print(prompt)

	fd := syscall.Stdin
	if term.IsTerminal(fd) {
		tokenBytes, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(tokenBytes)), nil
	}

	// Fallback for non-terminal input (e.g., piped input)
	reader := bufio.NewReader(os.Stdin)
	token, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(token), nil
}
