package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/org/sitepanel/internal/crypto"
)

var rootCmd = &cobra.Command{
	Use:   "panelctl",
	Short: "sitepanel operator CLI",
	Long:  "A CLI for setting up and editing a sitepanel deployment.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loadConfig()
		// Env var overrides are applied in newClient()
	},
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "Output format: table, json, raw")
	rootCmd.PersistentFlags().StringVar(&outputField, "field", "", "Print only this field (use with --format=raw)")

	rootCmd.AddCommand(hashPasswordCmd())
	rootCmd.AddCommand(verifyPasswordCmd())
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(logoutCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(contentCmd())
}

// readPassword prompts without echo on a terminal and reads a plain line otherwise.
func readPassword(prompt string, in *bufio.Reader) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, prompt)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	line, err := in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// --- password setup ---

func hashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Hash the admin password for admin_password_hash",
		RunE: func(cmd *cobra.Command, args []string) error {
			in := bufio.NewReader(os.Stdin)
			password, err := readPassword("Password: ", in)
			if err != nil {
				return err
			}
			if password == "" {
				return errors.New("password must not be empty")
			}
			if term.IsTerminal(int(os.Stdin.Fd())) {
				confirm, err := readPassword("Confirm: ", in)
				if err != nil {
					return err
				}
				if confirm != password {
					return errors.New("passwords do not match")
				}
			}
			hash, err := crypto.HashPassword(password)
			if err != nil {
				return err
			}
			printSuccess(hash)
			return nil
		},
	}
}

func verifyPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify-password <hash>",
		Short: "Check a password against a stored hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, err := crypto.ParseHash(args[0]); err != nil {
				return err
			}
			password, err := readPassword("Password: ", bufio.NewReader(os.Stdin))
			if err != nil {
				return err
			}
			if !crypto.VerifyPassword(password, args[0]) {
				return errors.New("password does not match")
			}
			printSuccess("password matches")
			return nil
		},
	}
}

// --- session ---

func loginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session locally",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("address")
			if addr != "" {
				cfg.Address = addr
			}
			password, err := readPassword("Password: ", bufio.NewReader(os.Stdin))
			if err != nil {
				return err
			}
			client := newClient()
			token, result, err := client.login(password)
			if err != nil {
				printError(err.Error())
				return nil
			}
			cfg.Session = token
			if err := saveConfig(); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			printResult(result)
			return nil
		},
	}
	cmd.Flags().String("address", "", "Server address to store in the CLI config")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			if err := client.logout(); err != nil {
				printError(err.Error())
				return nil
			}
			cfg.Session = ""
			if err := saveConfig(); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			printSuccess("Logged out")
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the stored session is valid",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/api/auth/session")
			if err != nil {
				printError(err.Error())
				return nil
			}
			result["address"] = client.addr
			printResult(result)
			return nil
		},
	}
}

// --- content ---

func contentCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "content", Short: "Read and edit site content"}

	getCmd := &cobra.Command{
		Use:   "get [section]",
		Short: "Read the whole document or one section",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/admin/content"
			if len(args) == 1 {
				path += "/" + url.PathEscape(args[0])
			}
			client := newClient()
			result, err := client.get(path)
			if err != nil {
				printError(err.Error())
				return nil
			}
			if d, ok := result["data"].(map[string]any); ok {
				printResult(d)
				return nil
			}
			printResult(result)
			return nil
		},
	}

	setCmd := &cobra.Command{
		Use:   "set <section> <file|->",
		Short: "Replace one section with JSON from a file or stdin",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(args[1])
			if err != nil {
				return err
			}
			client := newClient()
			result, err := client.patchRaw("/api/admin/content/"+url.PathEscape(args[0]), raw)
			if err != nil {
				printError(err.Error())
				return nil
			}
			if d, ok := result["data"].(map[string]any); ok {
				if v, ok := d[args[0]]; ok {
					printResult(map[string]any{args[0]: v})
					return nil
				}
			}
			printSuccess("Section " + args[0] + " updated")
			return nil
		},
	}

	sectionsCmd := &cobra.Command{
		Use:   "sections",
		Short: "List editable sections",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/api/admin/sections")
			if err != nil {
				printError(err.Error())
				return nil
			}
			if names, ok := result["sections"].([]any); ok && outputFormat == "table" {
				for _, n := range names {
					fmt.Fprintln(stdout, n)
				}
				return nil
			}
			printResult(result)
			return nil
		},
	}

	cmd.AddCommand(getCmd, setCmd, sectionsCmd)
	return cmd
}

func readInput(name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(name)
}
