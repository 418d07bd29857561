package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	projectsLimit int
	projectsStats bool
)

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List registered projects, most recently used first",
	RunE:  runProjects,
}

func init() {
	projectsCmd.Flags().IntVar(&projectsLimit, "limit", 50, "Maximum projects to show")
	projectsCmd.Flags().BoolVar(&projectsStats, "stats", false, "Count active tasks in each project")
}

func runProjects(cmd *cobra.Command, args []string) error {
	c, err := openComponents()
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	items, total, err := c.Projects.List(cmd.Context(), projectsLimit, 0, projectsStats)
	if err != nil {
		return err
	}
	if total == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No projects registered yet.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	if projectsStats {
		fmt.Fprintln(w, "ID\tNAME\tLAST ACCESSED\tTASKS\tPATH")
	} else {
		fmt.Fprintln(w, "ID\tNAME\tLAST ACCESSED\tPATH")
	}
	for _, p := range items {
		if !projectsStats {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.Name, p.LastAccessed, p.WorkspacePath)
			continue
		}
		tasks := "-"
		switch {
		case p.Stats != nil:
			tasks = fmt.Sprint(p.Stats.ActiveTasks)
		case p.StatsError != "":
			tasks = "error"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.ID, p.Name, p.LastAccessed, tasks, p.WorkspacePath)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if total > len(items) {
		fmt.Fprintf(cmd.OutOrStdout(), "\n%d of %d projects shown\n", len(items), total)
	}
	return nil
}
