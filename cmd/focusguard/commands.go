package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/Laisky/errors/v2"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/jask/focusguard/internal/config"
	"github.com/jask/focusguard/internal/database/repository"
	"github.com/jask/focusguard/internal/policy"
	"github.com/jask/focusguard/internal/prefs"
	"github.com/jask/focusguard/internal/service"
	"github.com/jask/focusguard/internal/testdata"
	"github.com/jask/focusguard/internal/tui"
)

type rootOptions struct {
	identity string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "focusguard",
		Short:         "Timed focus sessions with role-aware search filtering",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd, opts)
		},
	}
	root.PersistentFlags().StringVarP(&opts.identity, "identity", "u", "", "profile to act as (defaults to the active profile)")

	root.AddCommand(
		newSearchCmd(opts),
		newLockCmd(opts),
		newHistoryCmd(opts),
		newProfileCmd(opts),
		newSecretCmd(opts),
		newSessionsCmd(opts),
		newResetCmd(opts),
		newSeedCmd(opts),
		newConfigCmd(),
	)
	return root
}

func runTUI(cmd *cobra.Command, opts *rootOptions) error {
	ctx := cmd.Context()
	e, err := openEnv(ctx, opts.identity)
	if err != nil {
		return err
	}
	defer e.Close()

	m := e.machine()
	search, err := e.searchService(ctx, m)
	if err != nil {
		return err
	}
	app := tui.New(ctx, e.cfg, e.identity, m, tui.Services{
		Search:      search,
		Profiles:    e.profiles,
		Sessions:    e.sessions,
		Maintenance: e.maintenance,
	}, e.log.Named("tui"))
	defer app.Close()

	_, err = tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}

func newSearchCmd(opts *rootOptions) *cobra.Command {
	var asRole string
	cmd := &cobra.Command{
		Use:   "search QUERY...",
		Short: "Run one query through the oracle and the content filter",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx, opts.identity)
			if err != nil {
				return err
			}
			defer e.Close()

			role := e.identity.Role
			if asRole != "" {
				role = policy.Parse(asRole)
			}
			svc, err := e.searchService(ctx, nil)
			if err != nil {
				return err
			}
			out, err := svc.Search(ctx, strings.Join(args, " "), role)
			if err != nil {
				return err
			}
			printOutcome(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&asRole, "role", "", "override the profile role (researcher, student, teacher)")
	return cmd
}

func printOutcome(w io.Writer, out service.Outcome) {
	fmt.Fprintf(w, "%s (%s): %s\n", out.Query, out.Role, out.Reason)
	for i, r := range out.Results {
		switch {
		case r.Blocked:
			fmt.Fprintf(w, "%2d. [blocked] %s  %s\n", i+1, r.Title, r.BlockReason)
		case r.Trusted:
			fmt.Fprintf(w, "%2d. [trusted] %s\n    %s\n", i+1, r.Title, r.URL)
		default:
			fmt.Fprintf(w, "%2d. %s\n    %s\n", i+1, r.Title, r.URL)
		}
	}
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect or edit the search history",
	}
	withLedger := func(cmd *cobra.Command, fn func(*service.Ledger) error) error {
		ctx := cmd.Context()
		e, err := openEnv(ctx, opts.identity)
		if err != nil {
			return err
		}
		defer e.Close()
		l := service.NewLedger(e.history.Scoped(e.identity.Name))
		if err := l.Load(ctx); err != nil {
			return err
		}
		return fn(l)
	}

	var suggest string
	list := &cobra.Command{
		Use:   "list",
		Short: "List queries, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, func(l *service.Ledger) error {
				entries := l.Entries()
				if suggest != "" {
					entries = l.Suggest(suggest, 10)
				}
				for _, q := range entries {
					fmt.Fprintln(cmd.OutOrStdout(), q)
				}
				return nil
			})
		},
	}
	list.Flags().StringVar(&suggest, "like", "", "only show entries resembling this text")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, func(l *service.Ledger) error { return l.Clear(cmd.Context()) })
		},
	}
	deleteCmd := &cobra.Command{
		Use:   "delete QUERY...",
		Short: "Remove one entry",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, func(l *service.Ledger) error {
				return l.Delete(cmd.Context(), strings.Join(args, " "))
			})
		},
	}
	cmd.AddCommand(list, clearCmd, deleteCmd)
	return cmd
}

func newProfileCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage profiles and roles",
	}

	var role, name string
	set := &cobra.Command{
		Use:   "set",
		Short: "Create or update the profile's role and display name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx, opts.identity)
			if err != nil {
				return err
			}
			defer e.Close()
			r := policy.Parse(role)
			if !r.Valid() {
				return errors.Errorf("unknown role %q: choose researcher, student or teacher", role)
			}
			display := name
			if display == "" {
				display = e.identity.DisplayName
			}
			id, err := e.profiles.Save(ctx, e.identity.Name, display, r)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now a %s\n", id.Name, id.Role)
			return nil
		},
	}
	set.Flags().StringVar(&role, "role", "", "researcher, student or teacher")
	set.Flags().StringVar(&name, "name", "", "display name")
	_ = set.MarkFlagRequired("role")

	show := &cobra.Command{
		Use:   "show",
		Short: "List profiles; the active one is marked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx, opts.identity)
			if err != nil {
				return err
			}
			defer e.Close()
			list, err := e.profiles.List(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
			for _, p := range list {
				marker := " "
				if p.Name == e.identity.Name {
					marker = "*"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", marker, p.Name, p.DisplayName, p.Role)
			}
			return tw.Flush()
		},
	}

	use := &cobra.Command{
		Use:   "use IDENTITY",
		Short: "Make IDENTITY the active profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx, args[0])
			if err != nil {
				return err
			}
			defer e.Close()
			if err := prefs.SaveActive("", prefs.Active{Identity: e.identity.Name, Role: e.identity.Role}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "active profile: %s (%s)\n", e.identity.Name, e.identity.Role)
			return nil
		},
	}
	cmd.AddCommand(set, show, use)
	return cmd
}

func newSecretCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage the pause secret and oracle API keys",
	}

	set := &cobra.Command{
		Use:   "set",
		Short: "Set the secret required to pause a session (read from stdin)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context(), opts.identity)
			if err != nil {
				return err
			}
			defer e.Close()
			secret, err := readLine(cmd.InOrStdin())
			if err != nil {
				return err
			}
			if secret == "" {
				return errors.New("secret must not be empty")
			}
			if err := e.secrets.SetPauseSecret(e.identity.Name, secret); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pause secret set for %s\n", e.identity.Name)
			return nil
		},
	}
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove the pause secret; sessions can then no longer be paused",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context(), opts.identity)
			if err != nil {
				return err
			}
			defer e.Close()
			return e.secrets.ClearPauseSecret(e.identity.Name)
		},
	}
	keyCmd := &cobra.Command{
		Use:   "key PROVIDER",
		Short: "Store an oracle API key for PROVIDER (read from stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context(), opts.identity)
			if err != nil {
				return err
			}
			defer e.Close()
			k, err := readLine(cmd.InOrStdin())
			if err != nil {
				return err
			}
			if k == "" {
				return e.secrets.DeleteProviderKey(args[0])
			}
			return e.secrets.StoreProviderKey(args[0], k)
		},
	}
	cmd.AddCommand(set, clearCmd, keyCmd)
	return cmd
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write or change the config file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the effective configuration to the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path()
			if _, err := os.Stat(path); err == nil && !force {
				return errors.Errorf("%s already exists; use --force to overwrite", path)
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := config.Save(cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	set := &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Change one setting, e.g. `config set session.default_minutes 50`",
		Long:  "Settable keys: " + strings.Join(config.Settable, ", "),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := config.Set(&cfg, args[0], args[1]); err != nil {
				return err
			}
			if err := config.Save(cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", args[0], strings.TrimSpace(args[1]))
			return nil
		},
	}
	cmd.AddCommand(initCmd, set)
	return cmd
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", errors.Wrap(err, "read stdin")
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func newSessionsCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Show the focus session log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx, opts.identity)
			if err != nil {
				return err
			}
			defer e.Close()
			list, err := e.sessions.History(ctx, e.identity.Name, limit)
			if err != nil {
				return err
			}
			printSessions(cmd.OutOrStdout(), list)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of sessions to show (0 for all)")
	return cmd
}

func printSessions(w io.Writer, list []repository.FocusSession) {
	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	var focused int
	for _, s := range list {
		focused += s.CompletedSeconds
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			s.StartedAt.Local().Format("2006-01-02 15:04"),
			time.Duration(s.CompletedSeconds)*time.Second,
			time.Duration(s.TotalSeconds)*time.Second,
			s.EndReason)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "%d sessions, %s focused\n", len(list), time.Duration(focused)*time.Second)
}

func newResetCmd(opts *rootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete all profiles, history and sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("reset deletes everything; pass --yes to confirm")
			}
			e, err := openEnv(cmd.Context(), opts.identity)
			if err != nil {
				return err
			}
			defer e.Close()
			if err := e.maintenance.Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "all data cleared")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm")
	return cmd
}

func newSeedCmd(opts *rootOptions) *cobra.Command {
	var seed int64
	cmd := &cobra.Command{
		Use:    "seed",
		Short:  "Write sample profiles, history and sessions",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context(), opts.identity)
			if err != nil {
				return err
			}
			defer e.Close()
			return testdata.Seed(cmd.Context(), testdata.Repos{
				Profiles: repository.NewProfileRepo(e.db),
				History:  e.history,
				Sessions: repository.NewSessionRepo(e.db),
			}, seed)
		},
	}
	cmd.Flags().Int64Var(&seed, "seed", 1, "random seed")
	return cmd
}
