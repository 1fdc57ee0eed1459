// Package main wires deployctl's cobra CLI surface over the engine
// packages: deploy, revert, verify, status, log, show, tag — the CLI
// front-end spec.md names as "out of scope but consumed."
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/vitaliisemenov/deployctl/internal/config"
	"github.com/vitaliisemenov/deployctl/internal/engine/conn"
	"github.com/vitaliisemenov/deployctl/internal/engine/dialect"
	"github.com/vitaliisemenov/deployctl/internal/engine/executor"
	"github.com/vitaliisemenov/deployctl/internal/engine/guard"
	"github.com/vitaliisemenov/deployctl/internal/engine/history"
	"github.com/vitaliisemenov/deployctl/internal/engine/metrics"
	"github.com/vitaliisemenov/deployctl/internal/engine/reconcile"
	"github.com/vitaliisemenov/deployctl/internal/engine/recorder"
	"github.com/vitaliisemenov/deployctl/internal/identity"
	"github.com/vitaliisemenov/deployctl/internal/plan"
	"github.com/vitaliisemenov/deployctl/internal/target"
	"github.com/vitaliisemenov/deployctl/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// CLI holds the configuration and collaborators every subcommand shares.
type CLI struct {
	cfg     *config.Config
	log     *slog.Logger
	metrics *metrics.Recorder
}

// NewCLI builds a CLI over an already-loaded Config.
func NewCLI(cfg *config.Config, log *slog.Logger, m *metrics.Recorder) *CLI {
	if log == nil {
		log = slog.Default()
	}
	return &CLI{cfg: cfg, log: log, metrics: m}
}

// GetRootCommand returns deployctl's root cobra command with every
// subcommand attached.
func (cli *CLI) GetRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "deployctl",
		Short: "Database schema change-management tool",
		Long:  "deployctl deploys, reverts, and verifies database schema changes against a plan and a registry of what has already run.",
	}

	root.PersistentFlags().String("target", "", "named target to operate against (default: the sole configured target)")

	root.AddCommand(
		cli.deployCommand(),
		cli.revertCommand(),
		cli.verifyCommand(),
		cli.statusCommand(),
		cli.logCommand(),
		cli.showCommand(),
		cli.tagCommand(),
	)
	return root
}

// resolved bundles everything a subcommand needs after opening a target:
// the live connection pool, its dialect, the resolved Target, and the
// parsed Plan.
type resolved struct {
	db  *sql.DB
	d   *dialect.Dialect
	tg  *target.Target
	pl  *plan.Plan
	who identity.Identity
}

func (cli *CLI) resolve(ctx context.Context, targetName string) (*resolved, error) {
	entry, err := cli.cfg.Target(targetName)
	if err != nil {
		return nil, err
	}

	tg, err := target.Parse(targetName, entry.URI, entry.RegistryNamespace, cli.cfg.Plan.TopDir)
	if err != nil {
		return nil, fmt.Errorf("resolving target: %w", err)
	}
	if cli.cfg.Plan.DeployDir != "" {
		tg.DeployDir = cli.cfg.Plan.DeployDir
	}
	if cli.cfg.Plan.RevertDir != "" {
		tg.RevertDir = cli.cfg.Plan.RevertDir
	}
	if cli.cfg.Plan.VerifyDir != "" {
		tg.VerifyDir = cli.cfg.Plan.VerifyDir
	}

	d, err := dialect.Lookup(tg.EngineTag)
	if err != nil {
		return nil, err
	}

	db, err := d.Open(ctx, tg.DriverURI())
	if err != nil {
		return nil, fmt.Errorf("opening target %s (%s): %w", tg.Name, target.SanitizeURI(tg.URI), err)
	}

	pl, err := plan.ParseFile(cli.cfg.Plan.File)
	if err != nil {
		db.Close()
		return nil, err
	}

	who := identity.Identity{Name: cli.cfg.User.Name, Email: cli.cfg.User.Email}
	if who.Name == "" || who.Email == "" {
		env := identity.FromEnvironment()
		if who.Name == "" {
			who.Name = env.Name
		}
		if who.Email == "" {
			who.Email = env.Email
		}
	}

	return &resolved{db: db, d: d, tg: tg, pl: pl, who: who}, nil
}

// newExecutor builds an Executor for r, attaching the optional distributed
// guard when the config names a Redis address.
func (cli *CLI) newExecutor(r *resolved) *executor.Executor {
	e := executor.New(r.db, r.d, r.tg, r.pl, map[string]string{}, r.who, cli.log, cli.metrics)
	if cli.cfg.GuardEnabled() {
		client := redis.NewClient(&redis.Options{
			Addr:     cli.cfg.Guard.Addr,
			Password: cli.cfg.Guard.Password,
			DB:       cli.cfg.Guard.DB,
		})
		e.Guard = guard.NewDistributed(client, r.tg.Name, cli.cfg.Guard.TTL, cli.log)
	}
	return e
}

func targetFlag(cmd *cobra.Command) string {
	name, _ := cmd.Root().PersistentFlags().GetString("target")
	return name
}

func (cli *CLI) deployCommand() *cobra.Command {
	var toChange string
	var toTag string

	cmd := &cobra.Command{
		Use:   "deploy [change]",
		Short: "Deploy pending changes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r, err := cli.resolve(ctx, targetFlag(cmd))
			if err != nil {
				return err
			}
			defer r.db.Close()

			mode := reconcile.All
			stopAt := ""
			if len(args) == 1 {
				toChange = args[0]
			}
			if toChange != "" {
				mode, stopAt = reconcile.ToChange, toChange
			} else if toTag != "" {
				mode, stopAt = reconcile.ToTag, toTag
			}

			deployed, err := reconcile.DeployedIDs(ctx, connOf(r), r.d, r.tg, r.pl, r.pl.ProjectName)
			if err != nil {
				return err
			}
			pending := reconcile.DeployPlan(r.pl, deployed, stopAt, mode)

			e := cli.newExecutor(r)
			for _, ch := range pending {
				if err := e.Deploy(ctx, ch); err != nil {
					return fmt.Errorf("deploying %s: %w", ch.Name, err)
				}
				fmt.Printf("deploying %s\n", ch.Name)
			}
			if len(pending) == 0 {
				fmt.Println("nothing to deploy")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&toChange, "to-change", "", "stop after deploying this change")
	cmd.Flags().StringVar(&toTag, "to-tag", "", "stop after deploying the change carrying this tag")
	return cmd
}

func (cli *CLI) revertCommand() *cobra.Command {
	var toChange string

	cmd := &cobra.Command{
		Use:   "revert [change]",
		Short: "Revert deployed changes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r, err := cli.resolve(ctx, targetFlag(cmd))
			if err != nil {
				return err
			}
			defer r.db.Close()

			if len(args) == 1 {
				toChange = args[0]
			}

			deployed, err := reconcile.DeployedIDs(ctx, connOf(r), r.d, r.tg, r.pl, r.pl.ProjectName)
			if err != nil {
				return err
			}
			toRevert, err := reconcile.RevertPlan(r.pl, deployed, toChange)
			if err != nil {
				return err
			}

			e := cli.newExecutor(r)
			for _, ch := range toRevert {
				if err := e.Revert(ctx, ch); err != nil {
					return fmt.Errorf("reverting %s: %w", ch.Name, err)
				}
				fmt.Printf("reverting %s\n", ch.Name)
			}
			if len(toRevert) == 0 {
				fmt.Println("nothing to revert")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&toChange, "to-change", "", "revert everything deployed after this change")
	return cmd
}

func (cli *CLI) verifyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify [change]",
		Short: "Verify deployed changes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r, err := cli.resolve(ctx, targetFlag(cmd))
			if err != nil {
				return err
			}
			defer r.db.Close()

			changes := r.pl.Changes()
			if len(args) == 1 {
				ch, ok := r.pl.ByName(args[0])
				if !ok {
					return fmt.Errorf("unknown change: %s", args[0])
				}
				changes = []*plan.Change{ch}
			}

			e := cli.newExecutor(r)
			failed := 0
			for _, ch := range changes {
				if e.Verify(ctx, ch) {
					fmt.Printf("%s ... ok\n", ch.Name)
				} else {
					fmt.Printf("%s ... FAILED\n", ch.Name)
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d change(s) failed verification", failed)
			}
			return nil
		},
	}
	return cmd
}

func (cli *CLI) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the currently deployed state",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r, err := cli.resolve(ctx, targetFlag(cmd))
			if err != nil {
				return err
			}
			defer r.db.Close()

			ev, ok, err := history.CurrentState(ctx, connOf(r), r.d, r.tg, r.pl.ProjectName)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("no changes deployed")
				return nil
			}
			fmt.Printf("# On target %s\n", r.tg.Name)
			fmt.Printf("Change:  %s\n", ev.Change)
			fmt.Printf("By:      %s <%s>\n", ev.CommitterName, ev.CommitterEmail)
			fmt.Printf("Date:    %s\n", ev.CommittedAt.Format("2006-01-02 15:04:05 -0700"))
			if len(ev.Tags) > 0 {
				fmt.Printf("Tags:    %v\n", ev.Tags)
			}
			return nil
		},
	}
}

func (cli *CLI) logCommand() *cobra.Command {
	var eventKind, changeRe, projectRe string
	var limit int
	var ascending bool

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Search the deployment event history",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r, err := cli.resolve(ctx, targetFlag(cmd))
			if err != nil {
				return err
			}
			defer r.db.Close()

			f := history.Filter{ChangeRegex: changeRe, ProjectRegex: projectRe, Limit: limit}
			if eventKind != "" {
				f.EventKinds = []string{eventKind}
			}
			if ascending {
				f.Direction = history.Asc
			}
			if err := f.Validate(); err != nil {
				return err
			}

			for ev := range history.Search(ctx, connOf(r), r.d, r.tg, r.pl.ProjectName, f) {
				fmt.Printf("%-8s %-24s %s %s <%s>\n", ev.Event, ev.Change,
					ev.CommittedAt.Format("2006-01-02 15:04:05"), ev.CommitterName, ev.CommitterEmail)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&eventKind, "event", "", "filter to one event kind (deploy, revert, fail, merge)")
	cmd.Flags().StringVar(&changeRe, "change", "", "filter changes matching this pattern")
	cmd.Flags().StringVar(&projectRe, "project", "", "filter to this project pattern")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows to return (0 = unlimited)")
	cmd.Flags().BoolVar(&ascending, "asc", false, "oldest first instead of newest first")
	return cmd
}

func (cli *CLI) showCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <change>",
		Short: "Show a change's plan entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r, err := cli.resolve(ctx, targetFlag(cmd))
			if err != nil {
				return err
			}
			defer r.db.Close()

			ch, ok := r.pl.ByName(args[0])
			if !ok {
				return fmt.Errorf("unknown change: %s", args[0])
			}
			fmt.Printf("change %s\n", ch.ID())
			fmt.Printf("Name:    %s\n", ch.Name)
			fmt.Printf("Planner: %s <%s>\n", ch.PlannerName, ch.PlannerEmail)
			fmt.Printf("Date:    %s\n", ch.Timestamp.Format("2006-01-02 15:04:05 -0700"))
			if len(ch.Dependencies) > 0 {
				fmt.Println("Dependencies:")
				for _, dep := range ch.Dependencies {
					fmt.Printf("  %s %s\n", dep.Type, dep.String())
				}
			}
			if ch.Note != "" {
				fmt.Printf("\n%s\n", ch.Note)
			}
			return nil
		},
	}
}

func (cli *CLI) tagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tag <name> [change]",
		Short: "Tag a deployed change",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r, err := cli.resolve(ctx, targetFlag(cmd))
			if err != nil {
				return err
			}
			defer r.db.Close()

			changeName := ""
			if len(args) == 2 {
				changeName = args[1]
			} else {
				ev, ok, err := history.CurrentState(ctx, connOf(r), r.d, r.tg, r.pl.ProjectName)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("no changes deployed to tag")
				}
				changeName = ev.Change
			}

			ch, ok := r.pl.ByName(changeName)
			if !ok {
				return fmt.Errorf("unknown change: %s", changeName)
			}

			rec := recorderFor(r)
			if err := rec.RecordTag(ctx, connOf(r), r.d, r.tg, r.pl, ch, args[0], r.who); err != nil {
				return err
			}
			fmt.Printf("tagged %s as @%s\n", ch.Name, args[0])
			return nil
		},
	}
	return cmd
}

// connOf wraps r.db as a non-transactional Connection for the read-only
// and reconcile queries a subcommand runs outside of an Executor's own
// deploy/revert transaction.
func connOf(r *resolved) conn.Connection {
	return conn.NewDBConnection(r.d.Tag, r.d.ParamStyle, r.db)
}

// recorderFor builds the Recorder the tag subcommand uses directly — it
// writes a single tags row outside of any deploy/revert transaction, so
// it doesn't need the Executor's own Recorder instance.
func recorderFor(r *resolved) *recorder.Recorder {
	return recorder.New()
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	return logger.NewLogger(logger.Config{
		Level:      cfg.Level,
		Format:     cfg.Format,
		Output:     cfg.Output,
		Filename:   cfg.Filename,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	})
}
