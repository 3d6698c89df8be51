package main

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"policysim/internal/config"
	"policysim/internal/metrics"
	"policysim/internal/model"
	"policysim/internal/pipeline"
	"policysim/internal/regress"
	simapi "policysim/pkg/policysim"
)

func newInitCmd(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init <config.yaml>",
		Short: "Write a starting config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", path)
			}
			if err := config.Write(path, config.Template()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

// runFlags are command-line overrides applied on top of the config file.
type runFlags struct {
	configPath  string
	outDir      string
	metricsFile string

	population float64
	samples    int
	days       int
	seed       uint64
	workers    int
	kind       string
	randomEnd  bool
	lags       []int
}

func newRunCmd(a *app) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Simulate a batch of epidemics and regress the policy effects",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Template()
			if f.configPath != "" {
				loaded, err := config.Load(f.configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			overrideFromFlags(cmd, &cfg, f)

			m := metrics.New()
			client, err := a.client(m)
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			summary, err := client.Run(cmd.Context(), simapi.RunRequest{Config: cfg, OutDir: f.outDir})
			if err != nil {
				return err
			}
			if f.metricsFile != "" {
				if err := m.WriteTextfile(f.metricsFile); err != nil {
					return fmt.Errorf("write metrics: %w", err)
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "run_id=%s samples=%s regressions=%s elapsed=%s\n",
				summary.RunID,
				humanize.Comma(int64(cfg.NSamples)),
				humanize.Comma(int64(summary.Attempted)),
				summary.Elapsed.Round(time.Millisecond))
			fmt.Fprintf(out, "result=%s\n", summary.ResultPath)
			if len(summary.Missing) > 0 {
				fmt.Fprintf(out, "missing=%s\n", formatMissing(summary.Missing))
			}
			writeEstimates(out, summary.Estimates)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.configPath, "config", "", "YAML config file")
	flags.StringVar(&f.outDir, "out", "", "result directory (defaults to save_dir, then --results-dir)")
	flags.StringVar(&f.metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile")
	flags.Float64Var(&f.population, "population", 0, "override population")
	flags.IntVar(&f.samples, "samples", 0, "override n_samples")
	flags.IntVar(&f.days, "days", 0, "override n_days")
	flags.Uint64Var(&f.seed, "seed", 0, "override seed")
	flags.IntVar(&f.workers, "workers", 0, "override workers")
	flags.StringVar(&f.kind, "kind", "", "override epidemic kind: SIR|SEIR")
	flags.BoolVar(&f.randomEnd, "random-end", false, "override random_end")
	flags.IntSliceVar(&f.lags, "lags", nil, "override reg_lags")
	return cmd
}

// overrideFromFlags copies only the flags that were set on the command line.
func overrideFromFlags(cmd *cobra.Command, cfg *pipeline.Config, f runFlags) {
	changed := cmd.Flags().Changed
	if changed("population") {
		cfg.Population = f.population
	}
	if changed("samples") {
		cfg.NSamples = f.samples
	}
	if changed("days") {
		cfg.NDays = f.days
	}
	if changed("seed") {
		cfg.Seed = f.seed
	}
	if changed("workers") {
		cfg.Workers = f.workers
	}
	if changed("kind") {
		cfg.Kind = f.kind
	}
	if changed("random-end") {
		cfg.RandomEnd = f.randomEnd
	}
	if changed("lags") {
		cfg.RegLags = f.lags
	}
}

func newRunsCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List indexed runs, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return errors.New("limit must be > 0")
			}
			client, err := a.client(nil)
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			runs, err := client.Runs(cmd.Context(), simapi.RunsRequest{Limit: limit})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "no runs found")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN ID\tCREATED\tKIND\tPOPULATION\tSAMPLES\tSEED")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\n",
					r.RunID, humanize.Time(r.CreatedAt), r.Kind,
					humanize.SIWithDigits(r.Population, 2, ""), r.Samples, r.Seed)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max runs to list")
	return cmd
}

func newShowCmd(a *app) *cobra.Command {
	var latest bool
	cmd := &cobra.Command{
		Use:   "show [run-id]",
		Short: "Show one indexed run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := simapi.ShowRequest{Latest: latest}
			if len(args) == 1 {
				req.RunID = args[0]
			}
			client, err := a.client(nil)
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			rec, err := client.Show(cmd.Context(), req)
			if err != nil {
				return err
			}
			writeRecord(cmd.OutOrStdout(), rec)
			return nil
		},
	}
	cmd.Flags().BoolVar(&latest, "latest", false, "show the newest run")
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Remove a run from the index, keeping its result file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client(nil)
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()
			if err := client.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}

func newLoadCmd(a *app) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load result files across populations and summarize the estimates",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.client(nil)
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			loaded, err := client.Load(cmd.Context(), dir)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "loaded %d results, coefficients %s\n", len(loaded.Paths), loaded.Coefficients)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "POPULATION\tLHS\tREGRESSOR\tFITTED\tMEAN\tSTD\tTRUTH")
			for i, effects := range loaded.Effects {
				for _, e := range effects {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s\t%s\t%s\n",
						humanize.SIWithDigits(loaded.Populations[i], 2, ""), e.LHS, e.Regressor,
						e.Fitted, e.Total, formatFloat(e.Mean), formatFloat(e.Std), formatFloat(e.Truth))
				}
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "result directory (defaults to --results-dir)")
	return cmd
}

func writeRecord(out io.Writer, rec model.RunRecord) {
	fmt.Fprintf(out, "run_id=%s kind=%s created=%s\n", rec.ID, rec.Kind, rec.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "population=%s seed=%d samples=%d days=%d lags=%v policies=%s\n",
		humanize.SIWithDigits(rec.Population, 2, ""), rec.Seed, rec.Samples, rec.Days, rec.Lags, strings.Join(rec.Policies, ","))
	fmt.Fprintf(out, "result=%s regressions=%s nonphysical=%d\n",
		rec.ResultPath, humanize.Comma(int64(rec.Attempted)), rec.NonPhysical)
	if len(rec.Missing) > 0 {
		fmt.Fprintf(out, "missing=%s\n", formatMissing(rec.Missing))
	}
	writeEstimates(out, rec.Estimates)
}

func writeEstimates(out io.Writer, estimates []model.EffectEstimate) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LHS\tREGRESSOR\tFITTED\tMEAN\tTRUTH")
	for _, e := range estimates {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", e.LHS, e.Regressor, e.Fitted, formatPtr(e.Mean), formatPtr(e.TrueEffect))
	}
	_ = tw.Flush()
}

func formatMissing(missing map[string]int) string {
	parts := make([]string, 0, len(missing))
	for _, reason := range []regress.Reason{regress.ReasonNoValidDays, regress.ReasonNoBaseline, regress.ReasonNoPolicy, regress.ReasonSingular} {
		if n := missing[string(reason)]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s:%d", reason, n))
		}
	}
	return strings.Join(parts, " ")
}

func formatPtr(v *float64) string {
	if v == nil {
		return "-"
	}
	return formatFloat(*v)
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return "-"
	}
	return fmt.Sprintf("%.4f", v)
}
