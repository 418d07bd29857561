package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	cleanupWorkspace string
	cleanupAll       bool
	cleanupRetention int
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Purge soft-deleted tasks older than the retention period",
	Long: `Permanently remove tasks that were soft-deleted more than --retention-days
ago, together with their entity links. Without --all only one workspace is
swept: --workspace, else TASKMEM_WORKSPACE, else the current directory.`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().StringVar(&cleanupWorkspace, "workspace", "", "Workspace to sweep")
	cleanupCmd.Flags().BoolVar(&cleanupAll, "all", false, "Sweep every registered project")
	cleanupCmd.Flags().IntVar(&cleanupRetention, "retention-days", 0, "Retention in days (default: retention_days from config)")
	cleanupCmd.MarkFlagsMutuallyExclusive("workspace", "all")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	c, err := openComponents()
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	days := c.Config.RetentionDays
	if cmd.Flags().Changed("retention-days") {
		days = cleanupRetention
	}
	out := cmd.OutOrStdout()

	if !cleanupAll {
		ws, err := c.Resolver.Resolve(cleanupWorkspace)
		if err != nil {
			return err
		}
		res, err := c.Tracker.CleanupDeletedTasks(cmd.Context(), ws.Path, days)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s: purged %d tasks, %d entities and %d links deleted before %s\n",
			ws.Path, res.PurgedCount, res.EntitiesPurged, res.LinksPurged, res.Cutoff)
		return nil
	}

	outcomes, err := c.Projects.CleanupAll(cmd.Context(), days)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTASKS\tENTITIES\tLINKS\tPATH")
	failed := 0
	for _, o := range outcomes {
		switch {
		case o.Error != "":
			failed++
			fmt.Fprintf(w, "%s\terror: %s\t\t\t%s\n", o.ProjectID, o.Error, o.WorkspacePath)
		case o.Result == nil:
			fmt.Fprintf(w, "%s\t-\t-\t-\t%s\n", o.ProjectID, o.WorkspacePath)
		default:
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\n", o.ProjectID,
				o.Result.PurgedCount, o.Result.EntitiesPurged, o.Result.LinksPurged, o.WorkspacePath)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d projects failed", failed, len(outcomes))
	}
	return nil
}
