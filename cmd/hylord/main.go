package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags are shared by every subcommand.
type GlobalFlags struct {
	ConfigPath string
	// API connection for remote commands
	APIUrl     string
	APITimeout time.Duration
	CACert     string
	Insecure   bool
	// Token overrides the credential taken from the local config
	Token string
	// JSON prints raw API responses
	JSON bool
}

func buildRoot() *cobra.Command {
	flags := &GlobalFlags{}
	root := createRootCommand(flags)
	root.AddCommand(
		createServeCommand(flags),
		createStatusCommand(flags),
		createLifecycleCommand(flags, "start", "Start the game server"),
		createLifecycleCommand(flags, "stop", "Stop the game server gracefully"),
		createLifecycleCommand(flags, "restart", "Stop and start the game server"),
		createConsoleCommand(flags),
		createSayCommand(flags),
		createPlayerCommand(flags, "op", "Grant operator rights"),
		createPlayerCommand(flags, "deop", "Revoke operator rights"),
		createPlayerCommand(flags, "kick", "Disconnect a player"),
		createPlayerCommand(flags, "ban", "Ban a player"),
		createUnbanCommand(flags),
		createPlayersCommand(flags),
		createPlaytimeCommand(flags),
		createBansCommand(flags),
		createBackupCommand(flags),
		createScheduleCommand(flags),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "hylord",
		Short: "Dedicated game server supervisor",
		Long: `hylord runs a dedicated game server, tracks players and playtime,
takes backups and performs scheduled restarts. Every other subcommand
talks to a running daemon over its HTTP API.

Examples:
  hylord serve --config hylord.json     # run the daemon
  hylord status
  hylord say "Restarting in 5 minutes"
  hylord backup create
  hylord status --api-url=http://remote:5580/api`,
		SilenceUsage: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&flags.ConfigPath, "config", "", "path to JSON config file (default hylord.json)")
	pf.StringVar(&flags.APIUrl, "api-url", "", "daemon API URL (default derived from config http.listen)")
	pf.DurationVar(&flags.APITimeout, "api-timeout", 10*time.Minute, "request timeout")
	pf.StringVar(&flags.CACert, "ca-cert", "", "CA certificate to trust for https")
	pf.BoolVar(&flags.Insecure, "insecure", false, "skip TLS verification")
	pf.StringVar(&flags.Token, "token", "", "API bearer token (default read from config http.auth)")
	pf.BoolVar(&flags.JSON, "json", false, "print raw JSON")
	return root
}
