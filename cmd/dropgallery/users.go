package main

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mdp/qrterminal/v3"
	"github.com/pquerna/otp/totp"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"pkt.systems/dropgallery/internal/appconfig"
	"pkt.systems/dropgallery/internal/auth"
	"pkt.systems/dropgallery/schema"
	"pkt.systems/pslog"
)

const (
	defaultPasswordLength = 20
	totpIssuer            = "dropgallery"
)

func newUsersCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage gallery users (auth.mode: file)",
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file")

	cmd.AddCommand(newUsersListCmd(&cfgPath))
	cmd.AddCommand(newUsersAddCmd(&cfgPath))
	cmd.AddCommand(newUsersDeleteCmd(&cfgPath))
	cmd.AddCommand(newUsersRotateTOTP(&cfgPath))
	cmd.AddCommand(newUsersDisableTOTP(&cfgPath))
	cmd.AddCommand(newUsersChpasswd(&cfgPath))

	return cmd
}

// openUserStore loads the config and the file-backed user store. A warning
// is logged when the server is not configured to read that file.
func openUserStore(cmd *cobra.Command, cfgPath string) (*auth.Store, error) {
	cfg, err := appconfig.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logger := pslog.Ctx(cmd.Context())
	if !strings.EqualFold(strings.TrimSpace(cfg.Auth.Mode), appconfig.AuthModeFile) {
		logger.Warn("auth.mode is not file; user changes take effect once it is", "mode", cfg.Auth.Mode, "user_file", cfg.Auth.UserFile)
	}
	return auth.NewStoreWithLogger(cfg.Auth.UserFile, cfg.Auth.SeedUsers, logger)
}

func newUsersListCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openUserStore(cmd, *cfgPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, user := range store.LoadUsers() {
				marker := ""
				if user.TOTPSecret != "" {
					marker = " (totp)"
				}
				_, _ = fmt.Fprintf(out, "%s%s\n", user.Username, marker)
			}
			return nil
		},
	}
}

func newUsersAddCmd(cfgPath *string) *cobra.Command {
	var passwordFromStdin bool
	var autoPassword bool
	var withTOTP bool
	cmd := &cobra.Command{
		Use:   "add <username>",
		Short: "Add a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			username := args[0]
			if err := validateUsername(username); err != nil {
				return err
			}
			password, generated, err := resolvePassword(cmd, passwordFromStdin, autoPassword)
			if err != nil {
				return err
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
			if err != nil {
				return err
			}
			var secret, url string
			if withTOTP {
				secret, url, err = generateTOTP(username)
				if err != nil {
					return err
				}
			}
			store, err := openUserStore(cmd, *cfgPath)
			if err != nil {
				return err
			}
			if err := store.AddUser(auth.User{
				Username:     username,
				PasswordHash: string(hash),
				TOTPSecret:   secret,
			}); err != nil {
				return err
			}
			printUserEnrollment(cmd.OutOrStdout(), username, password, generated, secret, url)
			return nil
		},
	}
	cmd.Flags().BoolVar(&passwordFromStdin, "password-from-stdin", false, "read password from stdin")
	cmd.Flags().BoolVar(&autoPassword, "auto-password", false, "generate a random password")
	cmd.Flags().BoolVar(&withTOTP, "totp", false, "require a TOTP code at login")
	return cmd
}

func newUsersDeleteCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <username>",
		Short: "Delete a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openUserStore(cmd, *cfgPath)
			if err != nil {
				return err
			}
			if err := store.DeleteUser(args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted user: %s\n", args[0])
			return nil
		},
	}
}

func newUsersRotateTOTP(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "rotate-totp <username>",
		Short: "Enable or rotate the TOTP secret for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			username := args[0]
			if err := validateUsername(username); err != nil {
				return err
			}
			secret, url, err := generateTOTP(username)
			if err != nil {
				return err
			}
			store, err := openUserStore(cmd, *cfgPath)
			if err != nil {
				return err
			}
			if err := store.UpdateTOTP(username, secret); err != nil {
				return err
			}
			printUserEnrollment(cmd.OutOrStdout(), username, "", false, secret, url)
			return nil
		},
	}
}

func newUsersDisableTOTP(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "disable-totp <username>",
		Short: "Remove the TOTP requirement for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			username := args[0]
			if err := validateUsername(username); err != nil {
				return err
			}
			store, err := openUserStore(cmd, *cfgPath)
			if err != nil {
				return err
			}
			if err := store.ClearTOTP(username); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "totp disabled: %s\n", username)
			return nil
		},
	}
}

func newUsersChpasswd(cfgPath *string) *cobra.Command {
	var passwordFromStdin bool
	var autoPassword bool
	cmd := &cobra.Command{
		Use:   "chpasswd <username>",
		Short: "Change a user's password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			username := args[0]
			if err := validateUsername(username); err != nil {
				return err
			}
			password, generated, err := resolvePassword(cmd, passwordFromStdin, autoPassword)
			if err != nil {
				return err
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
			if err != nil {
				return err
			}
			store, err := openUserStore(cmd, *cfgPath)
			if err != nil {
				return err
			}
			if err := store.UpdatePassword(username, string(hash)); err != nil {
				return err
			}
			printUserEnrollment(cmd.OutOrStdout(), username, password, generated, "", "")
			return nil
		},
	}
	cmd.Flags().BoolVar(&passwordFromStdin, "password-from-stdin", false, "read password from stdin")
	cmd.Flags().BoolVar(&autoPassword, "auto-password", false, "generate a random password")
	return cmd
}

func resolvePassword(cmd *cobra.Command, fromStdin, auto bool) (string, bool, error) {
	if fromStdin && auto {
		return "", false, errors.New("choose one of --password-from-stdin or --auto-password")
	}
	if fromStdin {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", false, err
		}
		pass := strings.TrimSpace(string(data))
		if pass == "" {
			return "", false, errors.New("password from stdin is empty")
		}
		return pass, false, nil
	}
	if auto {
		pass, err := generatePassword(defaultPasswordLength)
		if err != nil {
			return "", false, err
		}
		return pass, true, nil
	}
	prompter := newPasswordPrompter(cmd.InOrStdin(), cmd.ErrOrStderr())
	passphrase, err := prompter.Prompt("Password: ")
	if err != nil {
		return "", false, err
	}
	confirm, err := prompter.Prompt("Confirm password: ")
	if err != nil {
		return "", false, err
	}
	if string(passphrase) != string(confirm) {
		return "", false, errors.New("passwords do not match")
	}
	pass := string(passphrase)
	if pass == "" {
		return "", false, errors.New("password is empty")
	}
	return pass, false, nil
}

func generatePassword(length int) (string, error) {
	if length <= 0 {
		length = defaultPasswordLength
	}
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = charset[int(b)%len(charset)]
	}
	return string(buf), nil
}

func generateTOTP(username string) (string, string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      totpIssuer,
		AccountName: username,
	})
	if err != nil {
		return "", "", err
	}
	return key.Secret(), key.URL(), nil
}

func printUserEnrollment(w io.Writer, username, password string, showPassword bool, secret, url string) {
	_, _ = fmt.Fprintf(w, "username: %s\n", username)
	if showPassword && password != "" {
		_, _ = fmt.Fprintf(w, "password: %s\n", password)
	}
	if secret != "" {
		_, _ = fmt.Fprintf(w, "totp_secret: %s\n", secret)
	}
	if url != "" {
		_, _ = fmt.Fprintf(w, "otpauth_url: %s\n", url)
		_, _ = fmt.Fprintln(w, "totp_qr:")
		qrterminal.GenerateHalfBlock(url, qrterminal.L, w)
	}
}

func validateUsername(username string) error {
	if err := schema.ValidateUserID(schema.UserID(username)); err != nil {
		return errors.New("invalid username: must match [a-z0-9._@+-]")
	}
	return nil
}
