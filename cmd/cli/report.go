package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dvloznov/dre-reports/internal/aggregate"
	"github.com/dvloznov/dre-reports/internal/app"
	"github.com/dvloznov/dre-reports/internal/dimensions"
	"github.com/dvloznov/dre-reports/internal/notionsync"
	"github.com/dvloznov/dre-reports/internal/parser"
	"github.com/dvloznov/dre-reports/internal/store"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// addFilterFlags binds the --projeto, --ano and --mes flags to f.
func addFilterFlags(cmd *cobra.Command, f *store.Filter) {
	cmd.Flags().StringVar(&f.Project, "projeto", "", "Project label")
	cmd.Flags().IntVar(&f.Year, "ano", 0, "Year")
	cmd.Flags().IntVar(&f.Month, "mes", 0, "Month (1-12)")
}

func checkFilter(f store.Filter) error {
	if f.Month < 0 || f.Month > 12 {
		return fmt.Errorf("--mes out of range: %d", f.Month)
	}
	if f.Year < 0 {
		return fmt.Errorf("--ano out of range: %d", f.Year)
	}
	return nil
}

func newReportCmd(c *cli) *cobra.Command {
	var (
		filter    store.Filter
		byProject bool
		costs     bool
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print revenue, cost and margin per month",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFilter(filter); err != nil {
				return err
			}
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			items, err := a.Store.QueryLineItems(cmd.Context(), filter)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch {
			case costs:
				printCosts(out, aggregate.Costs(items))
			case byProject:
				printProjects(out, aggregate.ByProject(items))
			default:
				printReport(out, aggregate.ByPeriod(items))
			}
			return nil
		},
	}
	addFilterFlags(cmd, &filter)
	cmd.Flags().BoolVar(&byProject, "by-project", false, "Total per project instead of per month")
	cmd.Flags().BoolVar(&costs, "costs", false, "Break cost down by category")
	cmd.MarkFlagsMutuallyExclusive("by-project", "costs")
	return cmd
}

func printReport(w io.Writer, r aggregate.Report) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Período\tReceita\tCusto\tMargem\tMargem %\tDesoneração\t")
	for _, p := range r.Periods {
		writeTotals(tw, p.Period.String(), p.Totals)
	}
	writeTotals(tw, "Total", r.Totals)
	tw.Flush()
}

func printProjects(w io.Writer, rows []aggregate.ProjectTotals) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Projeto\tReceita\tCusto\tMargem\tMargem %\tDesoneração\t")
	for _, p := range rows {
		writeTotals(tw, p.Project, p.Totals)
	}
	tw.Flush()
}

func writeTotals(w io.Writer, label string, t aggregate.Totals) {
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t\n",
		label,
		aggregate.FormatMoney(t.Revenue),
		aggregate.FormatMoney(t.Cost),
		aggregate.FormatMoney(t.Margin),
		aggregate.FormatPercent(t.MarginPct),
		aggregate.FormatMoney(t.TaxRelief),
	)
}

func printCosts(w io.Writer, b aggregate.CostBreakdown) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Categoria\tCusto\t%\t")
	for _, s := range b.Shares {
		fmt.Fprintf(tw, "%s\t%s\t%s\t\n", s.Category, aggregate.FormatMoney(s.Total), aggregate.FormatPercent(s.Percent))
	}
	fmt.Fprintf(tw, "Total\t%s\t\t\n", aggregate.FormatMoney(b.Total))
	tw.Flush()
}

func newBatchesCmd(c *cli) *cobra.Command {
	var (
		limit int
		runs  bool
	)

	cmd := &cobra.Command{
		Use:   "batches",
		Short: "List loaded batches or ingestion runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			defer tw.Flush()

			if runs {
				list, err := a.Store.ListRuns(cmd.Context(), limit)
				if err != nil {
					return err
				}
				fmt.Fprintln(tw, "RUN\tSTATUS\tBATCH\tLOADED\tREJECTED\tSTARTED\tSOURCE")
				for _, r := range list {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
						r.ID, r.Status, r.BatchID, r.Loaded, r.Rejected, r.StartedAt.Format(time.RFC3339), r.Source)
				}
				return nil
			}

			list, err := a.Store.ListBatches(cmd.Context(), limit)
			if err != nil {
				return err
			}
			fmt.Fprintln(tw, "BATCH\tITEMS\tACTIVE\tCREATED\tSOURCE")
			for _, b := range list {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n",
					b.ID, b.Items, b.ActivePeriods, b.CreatedAt.Format(time.RFC3339), b.SourceName)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", store.DefaultListLimit, "Maximum rows to list")
	cmd.Flags().BoolVar(&runs, "runs", false, "List ingestion runs instead of batches")
	return cmd
}

func newRefreshDimensionsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh-dimensions",
		Short: "Rebuild the project and period dimensions",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			res, err := dimensions.Refresh(cmd.Context(), a.Store)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Projects: %d  Periods: %d\n", res.Projects, res.Periods)
			return nil
		},
	}
}

func newPublishNotionCmd(c *cli) *cobra.Command {
	var (
		filter store.Filter
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "publish-notion",
		Short: "Publish monthly totals to the Notion database",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFilter(filter); err != nil {
				return err
			}
			if c.cfg.Notion.Token == "" || c.cfg.Notion.DatabaseID == "" {
				return errors.New("notion.token (NOTION_TOKEN) and notion.database_id (NOTION_DATABASE_ID) are required")
			}
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}

			client := notionsync.NewNotionClient(c.cfg.Notion.Token)
			summary, err := notionsync.Publish(cmd.Context(), a.Store, client, c.cfg.Notion.DatabaseID, filter, dryRun)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rows: %d  Created: %d  Updated: %d  Failed: %d\n",
				summary.Rows, summary.Created, summary.Updated, summary.Failed)
			if summary.Failed > 0 {
				return fmt.Errorf("%d page(s) failed to publish", summary.Failed)
			}
			return nil
		},
	}
	addFilterFlags(cmd, &filter)
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be published without writing")
	return cmd
}

func newMappingCmd(c *cli) *cobra.Command {
	var headers []string

	cmd := &cobra.Command{
		Use:   "mapping",
		Short: "Print the effective header mapping",
		Long: `Mapping prints the header mapping table in YAML. With --header, it resolves
the given headers against the table and prints the column of each field.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := app.LoadMapping(c.cfg)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if len(headers) == 0 {
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				if err := enc.Encode(table); err != nil {
					return err
				}
				return enc.Close()
			}

			m, err := table.Resolve(cmd.Context(), headers, parser.ResolveOptions{Fuzzy: c.cfg.Mapping.Fuzzy})
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "FIELD\tCOLUMN\tHEADER\tMETHOD")
			for _, match := range m.Matches {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", match.Field, match.Column+1, match.Header, match.Method)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringSliceVar(&headers, "header", nil, "Header row to resolve (repeat or comma-separate)")
	return cmd
}
