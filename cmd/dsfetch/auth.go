package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"dsfetch/pkg/auth"
	"dsfetch/pkg/ui"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	// Auth command flags
	authProfile string
	authToken   string
)

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage hub access tokens",
	Long: `Manage the access token used for gated and private datasets.

Tokens are stored using:
  - System keychain (when available)
  - One AES-GCM sealed file per profile (PBKDF2 derived key)
  - HF_TOKEN or DSFETCH_HUB_TOKEN environment variables (read only)

Never share your token or config files!`,
}

// loginCmd represents the auth login command
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store a hub access token securely",
	Long: `Store a hub access token in the system keychain or an encrypted file.

The token is read from --token, or prompted for without echo.`,
	Example: `  # Interactive login
  dsfetch auth login

  # Store a token for a second profile
  dsfetch auth login --profile work --token hf_xxx`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

// logoutCmd represents the auth logout command
var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove a stored token",
	Args:  cobra.NoArgs,
	RunE:  runLogout,
}

// authStatusCmd represents the auth status command
var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which token a run would use",
	Args:  cobra.NoArgs,
	RunE:  runAuthStatus,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(logoutCmd)
	authCmd.AddCommand(authStatusCmd)

	authCmd.PersistentFlags().StringVar(&authProfile, "profile", auth.DefaultProfile, "token profile")
	loginCmd.Flags().StringVar(&authToken, "token", "", "token to store (prompted for when empty)")
}

func runLogin(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	token := strings.TrimSpace(authToken)
	if token == "" {
		auth.ShowTokenGuide(os.Stdout)
		fmt.Println()
		fmt.Print("Hub access token (hidden): ")
		token, err = readPassword()
		if err != nil {
			return fmt.Errorf("failed to read token: %w", err)
		}
	}
	if err := auth.ValidateToken(token); err != nil {
		return err
	}
	if !strings.HasPrefix(token, "hf_") {
		ui.PrintWarning("Token does not start with hf_, storing it anyway")
	}

	if existing, _ := manager.Retrieve(authProfile); existing != nil && existing.Token != token && authToken == "" {
		reader := bufio.NewReader(os.Stdin)
		fmt.Printf("Profile '%s' already has a token. Replace it? (y/N): ", authProfile)
		input, _ := reader.ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
			return nil
		}
	}

	cred := &auth.Credential{
		Profile:      authProfile,
		Token:        token,
		LastModified: time.Now(),
	}
	if err := manager.Store(cred); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}

	ui.PrintSuccess(fmt.Sprintf("Token saved for profile %s (%s)", authProfile, auth.MaskToken(token)))
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}
	if err := manager.Delete(authProfile); err != nil {
		return err
	}
	ui.PrintSuccess("Token removed for profile " + authProfile)
	if auth.NewEnvironmentStore().Exists(authProfile) {
		ui.PrintWarning("A token is still set in the environment")
	}
	return nil
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	ui.PrintInfo("Profile", authProfile)

	// Environment tokens take precedence at run time
	env := auth.NewEnvironmentStore()
	if cred, err := env.Retrieve(authProfile); err == nil {
		ui.PrintInfo("Token", auth.MaskToken(cred.Token))
		ui.PrintInfo("Source", "environment")
		return nil
	}

	cred, err := manager.Retrieve(authProfile)
	if err != nil {
		ui.PrintInfo("Token", "none (public datasets only)")
		return nil
	}
	ui.PrintInfo("Token", auth.MaskToken(cred.Token))
	ui.PrintInfo("Stored", cred.LastModified.Local().Format(time.DateTime))
	return nil
}

// readPassword reads a secret from stdin without echoing
func readPassword() (string, error) {
	if term.IsTerminal(int(syscall.Stdin)) {
		password, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err == nil {
			return strings.TrimSpace(string(password)), nil
		}
	}

	// Fallback to regular input
	reader := bufio.NewReader(os.Stdin)
	input, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
