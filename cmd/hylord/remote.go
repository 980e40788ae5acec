package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/hylord/internal/session"
	"github.com/loykin/hylord/pkg/client"
)

func createStatusCommand(f *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show server, player and schedule status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := newAPIClient(f).Status(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if f.JSON {
				printJSON(out, st)
				return nil
			}
			printStatus(out, st)
			return nil
		},
	}
}

func printStatus(w io.Writer, st client.Status) {
	s := st.Server
	_, _ = fmt.Fprintf(w, "Server:   %s (%s)\n", s.Name, s.State)
	if s.Running {
		_, _ = fmt.Fprintf(w, "PID:      %d  port %d  up %s\n", s.PID, s.Port, time.Since(s.StartedAt).Round(time.Second))
	}
	if s.ExitErr != "" {
		_, _ = fmt.Fprintf(w, "Last exit: %s\n", s.ExitErr)
	}
	_, _ = fmt.Fprintf(w, "Players:  %d online (peak %d)\n", st.PlayersOnline, st.PeakPlayers)
	_, _ = fmt.Fprintf(w, "Restart:  %s\n", st.AutoRestart.Label)
	_, _ = fmt.Fprintf(w, "Backup:   %s\n", st.AutoBackup.Label)
	if s.Running {
		_, _ = fmt.Fprintf(w, "Usage:    %.1f%% CPU  %.0f MB (peak %.1f%% / %.0f MB)\n",
			st.Usage.CPUPercent, st.Usage.MemoryMB, st.PeakCPU, st.PeakMemoryMB)
	}
}

// createLifecycleCommand builds start, stop and restart.
func createLifecycleCommand(f *GlobalFlags, verb, short string) *cobra.Command {
	return &cobra.Command{
		Use:   verb,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := newAPIClient(f)
			var err error
			switch verb {
			case "start":
				err = c.Start(cmd.Context())
			case "stop":
				err = c.Stop(cmd.Context())
			default:
				err = c.Restart(cmd.Context())
			}
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", verb)
			return nil
		},
	}
}

func createConsoleCommand(f *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "cmd <text...>",
		Aliases: []string{"command"},
		Short:   "Send a raw console command",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newAPIClient(f).Command(cmd.Context(), strings.Join(args, " "))
		},
	}
}

func createSayCommand(f *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "say <message...>",
		Short: "Broadcast a chat message",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newAPIClient(f).Say(cmd.Context(), strings.Join(args, " "))
		},
	}
}

func createPlayerCommand(f *GlobalFlags, verb, short string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <player>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newAPIClient(f)
			fns := map[string]func() error{
				"op":   func() error { return c.Op(cmd.Context(), args[0]) },
				"deop": func() error { return c.Deop(cmd.Context(), args[0]) },
				"kick": func() error { return c.Kick(cmd.Context(), args[0]) },
				"ban":  func() error { return c.Ban(cmd.Context(), args[0]) },
			}
			if err := fns[verb](); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s: ok\n", verb, args[0])
			return nil
		},
	}
}

func createUnbanCommand(f *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "unban <name|identity>",
		Short: "Remove a ban",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := newAPIClient(f).Unban(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "unbanned %s (%s)\n", rec.DisplayName, rec.Target)
			return nil
		},
	}
}

func createPlayersCommand(f *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "players",
		Short: "List players seen since the daemon started",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			players, err := newAPIClient(f).Players(cmd.Context())
			if err != nil {
				return err
			}
			if f.JSON {
				printJSON(cmd.OutOrStdout(), players)
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "NAME\tIDENTITY\tONLINE\tOP\tSESSION")
			for _, p := range players {
				length := "--"
				if p.Online {
					length = time.Since(p.JoinedAt).Round(time.Second).String()
				}
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%t\t%t\t%s\n", p.Name, p.Identity, p.Online, p.IsOp, length)
			}
			return tw.Flush()
		},
	}
}

func createPlaytimeCommand(f *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "playtime",
		Short: "Show cumulative playtime per player",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			recs, err := newAPIClient(f).Playtime(cmd.Context())
			if err != nil {
				return err
			}
			if f.JSON {
				printJSON(cmd.OutOrStdout(), recs)
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "NAME\tIDENTITY\tPLAYTIME\tLAST SEEN")
			for _, r := range recs {
				played := session.FormatPlaytime(time.Duration(r.TotalSeconds) * time.Second)
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.LastName, r.Identity, played, r.LastSeen.Local().Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		},
	}
}

func createBansCommand(f *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "bans",
		Short: "List bans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			bans, err := newAPIClient(f).Bans(cmd.Context())
			if err != nil {
				return err
			}
			if f.JSON {
				printJSON(cmd.OutOrStdout(), bans)
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "NAME\tTARGET\tBY\tREASON")
			for _, b := range bans {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", b.DisplayName, b.Target, b.By, b.Reason)
			}
			return tw.Flush()
		},
	}
}

func createBackupCommand(f *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create, list and restore world backups",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List backups, newest first",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				list, err := newAPIClient(f).Backups(cmd.Context())
				if err != nil {
					return err
				}
				if f.JSON {
					printJSON(cmd.OutOrStdout(), list)
					return nil
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				_, _ = fmt.Fprintln(tw, "FILE\tCREATED\tSIZE")
				for _, b := range list {
					_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", b.FileName, b.Created, b.Size)
				}
				return tw.Flush()
			},
		},
		&cobra.Command{
			Use:   "create",
			Short: "Take a snapshot now",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				b, err := newAPIClient(f).CreateBackup(cmd.Context())
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s)\n", b.FileName, b.Size)
				return nil
			},
		},
		&cobra.Command{
			Use:   "restore <file>",
			Short: "Restore a snapshot; a safety snapshot is taken first",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				res, err := newAPIClient(f).RestoreBackup(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				_, _ = fmt.Fprintf(out, "restored %s (safety copy %s)\n", res.Restored.FileName, res.Safety.FileName)
				if res.Restarted {
					_, _ = fmt.Fprintln(out, "server restarted")
				}
				return nil
			},
		},
	)
	return cmd
}

func createScheduleCommand(f *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Show automatic restart and backup schedules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := newAPIClient(f).Schedule(cmd.Context())
			if err != nil {
				return err
			}
			if f.JSON {
				printJSON(cmd.OutOrStdout(), s)
				return nil
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "restart: %s  %s\n", s.AutoRestart.Schedule, s.AutoRestart.Label)
			_, _ = fmt.Fprintf(out, "backup:  %s  %s\n", s.AutoBackup.Schedule, s.AutoBackup.Label)
			return nil
		},
	}
}
