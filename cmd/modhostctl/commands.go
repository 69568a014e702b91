package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/darkden-lab/modhost/internal/loader"
	"github.com/darkden-lab/modhost/internal/registry"
)

// errInvalidModules makes validate exit non-zero.
var errInvalidModules = errors.New("one or more modules failed validation")

func discover(cmd *cobra.Command, args []string) (*loader.Loader, error) {
	root := "modules"
	if len(args) > 0 {
		root = args[0]
	}
	workers, _ := cmd.Flags().GetInt("workers")
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	l, err := loader.New(root, loader.WithWorkers(workers), loader.WithLogger(quiet))
	if err != nil {
		return nil, err
	}
	l.Discover()
	return l, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newValidateCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "validate [modules-dir]",
		Short: "Validate every module and report failures",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := discover(cmd, args)
			if err != nil {
				return err
			}
			stats := l.Stats()
			out := cmd.OutOrStdout()

			if asJSON {
				if err := writeJSON(out, stats); err != nil {
					return err
				}
			} else {
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "SLUG\tVERSION\tSTATUS\tPAGES\tDETAIL")
				for _, m := range stats.Modules {
					detail := m.Error
					if detail == "" && len(m.Warnings) > 0 {
						detail = fmt.Sprintf("%d warning(s): %s", len(m.Warnings), m.Warnings[0])
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", m.Slug, m.Version, m.Status, m.Pages, detail)
				}
				tw.Flush()
				fmt.Fprintf(out, "\n%d module(s): %d valid, %d enabled, %d failed\n",
					stats.Total, stats.Valid, stats.Enabled, stats.Failed)
			}

			if stats.Failed > 0 {
				return errInvalidModules
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the catalogue as JSON")
	return cmd
}

func newPagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pages [modules-dir]",
		Short: "List the routable pages of valid, enabled modules",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := discover(cmd, args)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "MODULE\tID\tPATH\tCOMPONENT\tPROTECTED")
			for _, p := range l.AllPages() {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%v\n", p.Module, p.ID, p.Path, p.Component, p.Protected)
			}
			return tw.Flush()
		},
	}
}

func newContributionsCmd() *cobra.Command {
	var (
		role        string
		permissions []string
	)
	cmd := &cobra.Command{
		Use:   "contributions [modules-dir]",
		Short: "Show the aggregated contributions a role would see",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := discover(cmd, args)
			if err != nil {
				return err
			}
			reg := registry.New(slog.New(slog.NewTextHandler(io.Discard, nil)))
			for _, c := range l.Contributions() {
				if err := reg.Register(c); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "skipping %s: %v\n", c.ID, err)
				}
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"sidebar":       reg.SidebarItems(role, permissions),
				"dashboard":     reg.DashboardWidgets(role, permissions),
				"taskbar":       reg.TaskbarItems(role, permissions),
				"userMenu":      reg.UserMenuItems(role, permissions),
				"notifications": reg.Notifications(role, permissions),
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "USER", "caller role")
	cmd.Flags().StringSliceVar(&permissions, "permission", nil, "caller permission (repeatable)")
	return cmd
}
