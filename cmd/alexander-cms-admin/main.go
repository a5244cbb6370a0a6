// Package main provides administrative commands for Alexander CMS.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/prn-tf/alexander-cms/internal/app"
	"github.com/prn-tf/alexander-cms/internal/config"
	"github.com/prn-tf/alexander-cms/internal/domain"
	"github.com/prn-tf/alexander-cms/internal/service"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type options struct {
	configPath string
	verbose    bool
}

// NewRootCmd builds the admin command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "alexander-cms-admin",
		Short:         "Administrative tool for Alexander CMS",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to configuration file")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log to stderr")

	root.AddCommand(
		newAgentsCmd(opts),
		newContainersCmd(opts),
		newGCCmd(opts),
		newMigrateCmd(opts),
		newVersionCmd(),
	)
	return root
}

// operator is the actor admin commands run as.
func operator() domain.Actor {
	return domain.ActorFor(&domain.Agent{
		Login:   "operator",
		State:   domain.AgentActive,
		IsAdmin: true,
	}, domain.AuthLoginAndPassword)
}

// withApp loads configuration, assembles the application and runs fn.
func withApp(cmd *cobra.Command, opts *options, tweak func(*config.Config), appOpts app.Options, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if tweak != nil {
		tweak(cfg)
	}

	logger := zerolog.Nop()
	if opts.verbose {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()}).With().Timestamp().Logger()
	}

	appOpts.SingleProcess = true
	a, err := app.New(cmd.Context(), cfg, logger, appOpts)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(cmd.Context(), a)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

// =============================================================================
// Agents
// =============================================================================

func newAgentsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Manage agents",
	}
	cmd.AddCommand(newAgentsCreateCmd(opts), newAgentsListCmd(opts), newAgentsDeleteCmd(opts))
	return cmd
}

func newAgentsCreateCmd(opts *options) *cobra.Command {
	var input service.SignupInput

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an active agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			input.PasswordConfirmation = input.Password
			return withApp(cmd, opts, nil, app.Options{}, func(ctx context.Context, a *app.App) error {
				out, err := a.Agents.Signup(ctx, operator(), input)
				if err != nil {
					if verr, ok := domain.AsValidationError(err); ok {
						for _, msg := range verr.FullMessages() {
							fmt.Fprintln(cmd.ErrOrStderr(), msg)
						}
					}
					return err
				}
				agent := out.Agent
				if agent.State == domain.AgentPending && agent.ActivationCode != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "created agent %d (%s), pending activation with code %s\n",
						agent.ID, agent.DisplayName(), *agent.ActivationCode)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created agent %d (%s)\n", agent.ID, agent.DisplayName())
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&input.Login, "login", "", "login name")
	cmd.Flags().StringVar(&input.Email, "email", "", "email address")
	cmd.Flags().StringVar(&input.Password, "password", "", "password")
	cmd.Flags().BoolVar(&input.IsAdmin, "admin", false, "grant operator rights")
	return cmd
}

func newAgentsListCmd(opts *options) *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, nil, app.Options{}, func(ctx context.Context, a *app.App) error {
				out, err := a.Agents.List(ctx, operator(), service.ListAgentsInput{Limit: limit, Offset: offset})
				if err != nil {
					return err
				}

				tw := newTable(cmd.OutOrStdout())
				fmt.Fprintln(tw, "ID\tLOGIN\tEMAIL\tSTATE\tADMIN")
				for _, agent := range out.Agents {
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%t\n", agent.ID, agent.Login, agent.Email, agent.State, agent.IsAdmin)
				}
				if err := tw.Flush(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d of %d agents\n", len(out.Agents), out.TotalCount)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of agents")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of agents to skip")
	return cmd
}

func newAgentsDeleteCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id|login>",
		Short: "Delete an agent with its containers and posts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, nil, app.Options{}, func(ctx context.Context, a *app.App) error {
				agent, err := a.Agents.Destroy(ctx, operator(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted agent %d (%s)\n", agent.ID, agent.DisplayName())
				return nil
			})
		},
	}
}

// =============================================================================
// Containers
// =============================================================================

func newContainersCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "containers",
		Short: "Inspect containers",
	}

	var ownerID int64
	list := &cobra.Command{
		Use:   "list",
		Short: "List containers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, nil, app.Options{}, func(ctx context.Context, a *app.App) error {
				containers, err := a.Containers.List(ctx, operator(), ownerID)
				if err != nil {
					return err
				}

				tw := newTable(cmd.OutOrStdout())
				fmt.Fprintln(tw, "ID\tOWNER\tTYPE\tNAME\tPUBLIC")
				for _, c := range containers {
					fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%t\n", c.ID, c.OwnerID, c.Type, c.Name, c.PublicRead)
				}
				return tw.Flush()
			})
		},
	}
	list.Flags().Int64Var(&ownerID, "owner", 0, "only containers of this agent id")

	cmd.AddCommand(list)
	return cmd
}

// =============================================================================
// Garbage collection
// =============================================================================

func newGCCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Collect orphaned attachment payloads",
	}

	var dryRun bool
	run := &cobra.Command{
		Use:   "run",
		Short: "Run one collection pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			tweak := func(cfg *config.Config) {
				if dryRun {
					cfg.GC.DryRun = true
				}
			}
			return withApp(cmd, opts, tweak, app.Options{}, func(ctx context.Context, a *app.App) error {
				result := a.GC.RunOnce(ctx)
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d blobs, freed %d bytes, %d errors in %s\n",
					result.BlobsDeleted, result.BytesFreed, result.Errors, result.Duration)
				if result.Errors > 0 {
					return fmt.Errorf("garbage collection finished with %d errors", result.Errors)
				}
				return nil
			})
		},
	}
	run.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be deleted")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show orphaned payloads awaiting collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, nil, app.Options{}, func(ctx context.Context, a *app.App) error {
				s, err := a.GC.GetStats(ctx)
				if err != nil {
					return err
				}
				more := ""
				if s.HasMoreOrphans {
					more = "+"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "orphans: %d%s (%d bytes), grace period %s\n",
					s.OrphanBlobCount, more, s.OrphanBlobSize, s.GracePeriod)
				return nil
			})
		},
	}

	cmd.AddCommand(run, stats)
	return cmd
}

// =============================================================================
// Migrations
// =============================================================================

func newMigrateCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, nil, app.Options{SkipMigrations: true}, func(ctx context.Context, a *app.App) error {
				if err := a.Migrate(ctx); err != nil {
					return err
				}
				return printVersion(ctx, cmd.OutOrStdout(), a)
			})
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the applied schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, nil, app.Options{SkipMigrations: true}, func(ctx context.Context, a *app.App) error {
				return printVersion(ctx, cmd.OutOrStdout(), a)
			})
		},
	}

	cmd.AddCommand(up, status)
	return cmd
}

func printVersion(ctx context.Context, w io.Writer, a *app.App) error {
	version, dirty, err := a.MigrationVersion(ctx)
	if err != nil {
		return err
	}
	if dirty {
		fmt.Fprintf(w, "schema version %d (dirty)\n", version)
		return nil
	}
	fmt.Fprintf(w, "schema version %d\n", version)
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "alexander-cms-admin %s (built %s, commit %s)\n", Version, BuildTime, GitCommit)
		},
	}
}
