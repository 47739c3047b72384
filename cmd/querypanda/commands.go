package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fairyhunter13/querypanda/internal/adapter/fileio"
	httpserver "github.com/fairyhunter13/querypanda/internal/adapter/httpserver"
	"github.com/fairyhunter13/querypanda/internal/adapter/prompt"
	"github.com/fairyhunter13/querypanda/internal/app"
	"github.com/fairyhunter13/querypanda/internal/config"
	"github.com/fairyhunter13/querypanda/internal/domain"
	"github.com/fairyhunter13/querypanda/internal/frame"
	"github.com/fairyhunter13/querypanda/internal/usecase"
)

// cli carries state shared by every subcommand of one invocation.
type cli struct {
	cfg      config.Config
	shutdown func(context.Context) error
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "querypanda",
		Short:         "Run SQL against PostgreSQL and export the results as tables",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			c.cfg = cfg
			c.shutdown = setupObservability(cmd.Context(), cfg)
			return nil
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if c.shutdown == nil {
				return nil
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return c.shutdown(ctx)
		},
	}
	root.AddCommand(
		c.queryCmd(),
		c.retrieveCmd(),
		c.loadCmd(),
		c.statusCmd(),
		c.clearCmd(),
		c.serveCmd(),
		versionCmd(),
	)
	return root
}

func (c *cli) queryCmd() *cobra.Command {
	var (
		sql, sqlFile, out, format, agg string
		args, groupBy                  []string
		upload                         bool
	)
	cmd := &cobra.Command{
		Use:   "query [sql]",
		Short: "Execute one statement and print or export the result",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, pos []string) error {
			stmt, err := statement(sql, sqlFile, pos)
			if err != nil {
				return err
			}
			aggs, err := frame.ParseAggregations(agg)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			d, err := openDeps(ctx, c.cfg, depOptions{db: true, uploads: upload})
			if err != nil {
				return err
			}
			defer d.close(ctx)
			svc := d.queryService()
			bind := make([]any, len(args))
			for i, a := range args {
				bind[i] = a
			}

			if out != "" {
				var f domain.Format
				if format != "" {
					if f, err = domain.ParseFormat(format); err != nil {
						return err
					}
				}
				res, err := svc.Export(ctx, usecase.ExportRequest{
					SQL: stmt, Args: bind, Path: out, Format: f,
					GroupBy: groupBy, Aggregations: aggs, Upload: upload,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d rows to %s\n", res.Rows, res.Path)
				if res.URL != "" {
					fmt.Fprintf(cmd.ErrOrStderr(), "uploaded to %s\n", res.URL)
				}
				return nil
			}
			if upload {
				return fmt.Errorf("%w: --upload requires --out", domain.ErrInvalidArgument)
			}
			f, err := stdoutFormat(format)
			if err != nil {
				return err
			}
			df, err := svc.QueryAggregate(ctx, stmt, groupBy, aggs, bind...)
			if err != nil {
				return err
			}
			return fileio.Write(cmd.OutOrStdout(), f, df)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&sql, "sql", "", "SQL statement to execute")
	fl.StringVar(&sqlFile, "sql-file", "", "read the statement from a file")
	fl.StringArrayVar(&args, "arg", nil, "positional parameter ($1, $2, ...); repeatable")
	fl.StringVarP(&out, "out", "o", "", "write the result to this file instead of stdout")
	fl.StringVarP(&format, "format", "f", "", "output format: csv, xlsx, jsonl, parquet (default from --out extension, csv on stdout)")
	fl.StringSliceVar(&groupBy, "group-by", nil, "columns to group by")
	fl.StringVar(&agg, "agg", "", "aggregations as column:func,... (sum, mean, min, max, count, median, std)")
	fl.BoolVar(&upload, "upload", false, "upload the exported file to object storage")
	return cmd
}

func (c *cli) retrieveCmd() *cobra.Command {
	var (
		jobPath, onCheckpoint string
		job                   config.RetrievalJob
		upload                bool
	)
	cmd := &cobra.Command{
		Use:   "retrieve",
		Short: "Fetch a time range window by window into per-period data files",
		Long: "Runs a query template once per fetch window between start and end. {start} and {end}\n" +
			"in the query are bound to each window's bounds. Results are written to one file per\n" +
			"aggregation period and progress is checkpointed so an interrupted run can continue.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			merged := job
			if jobPath != "" {
				fromFile, err := config.LoadJobFile(jobPath)
				if err != nil {
					return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
				}
				merged = overrideJob(fromFile, job)
			}
			req, err := buildRetrieveRequest(merged.WithDefaults(c.cfg))
			if err != nil {
				return err
			}
			req.Upload = upload
			p, err := prompter(cmd, onCheckpoint)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			d, err := openDeps(ctx, c.cfg, depOptions{db: true, checkpoints: true, uploads: upload})
			if err != nil {
				return err
			}
			defer d.close(ctx)
			svc := usecase.NewRetrievalService(d.querier(), d.checkpointStores(), p, d.uploader, c.cfg.QueryTimeout)
			res, err := svc.Retrieve(ctx, req)
			printRetrieveResult(cmd, res)
			return err
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&jobPath, "job", "", "YAML job file; flags override its fields")
	fl.StringVar(&job.Query, "query", "", "query template using {start} and {end}")
	fl.StringVar(&job.Start, "start", "", "range start, e.g. 2024-01-01 or 2024-01-01T00:00:00Z")
	fl.StringVar(&job.End, "end", "", "range end (exclusive)")
	fl.StringVar(&job.FetchFrequency, "fetch-frequency", "", "window length, e.g. 1h, 30min, 1D (default FETCH_FREQUENCY)")
	fl.StringVar(&job.AggregationFrequency, "aggregation", "", "file period: daily, weekly or monthly (default AGGREGATION_FREQUENCY)")
	fl.StringVar(&job.SaveLocation, "save-location", "", "directory for data files and the checkpoint (default SAVE_LOCATION)")
	fl.StringVar(&job.FileFormat, "format", "", "data file format (default FILE_FORMAT)")
	fl.StringVar(&onCheckpoint, "on-checkpoint", "prompt", "what to do with an existing checkpoint: prompt, continue, overwrite or exit")
	fl.BoolVar(&upload, "upload", false, "upload every written data file to object storage")
	return cmd
}

func (c *cli) loadCmd() *cobra.Command {
	var (
		out, format, agg string
		groupBy          []string
	)
	cmd := &cobra.Command{
		Use:   "load <file-or-dir>",
		Short: "Read saved data files back and print or re-export them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, pos []string) error {
			aggs, err := frame.ParseAggregations(agg)
			if err != nil {
				return err
			}
			df, err := usecase.NewLoadService().LoadAggregate(cmd.Context(), pos[0], groupBy, aggs)
			if err != nil {
				return err
			}
			if out == "" {
				f, err := stdoutFormat(format)
				if err != nil {
					return err
				}
				return fileio.Write(cmd.OutOrStdout(), f, df)
			}
			name := format
			if name == "" {
				name = filepath.Ext(out)
			}
			f, err := domain.ParseFormat(name)
			if err != nil {
				return err
			}
			if err := fileio.WriteFile(out, f, df); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d rows to %s\n", df.Nrow(), out)
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&out, "out", "o", "", "write the combined table to this file instead of stdout")
	fl.StringVarP(&format, "format", "f", "", "output format (default from --out extension, csv on stdout)")
	fl.StringSliceVar(&groupBy, "group-by", nil, "columns to group by")
	fl.StringVar(&agg, "agg", "", "aggregations as column:func,...")
	return cmd
}

func (c *cli) statusCmd() *cobra.Command {
	var saveLocation, format string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the checkpoint and data files of a save location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loc, f, err := c.location(saveLocation, format)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			d, err := openDeps(ctx, c.cfg, depOptions{checkpoints: true})
			if err != nil {
				return err
			}
			defer d.close(ctx)
			st, err := usecase.NewStatusService(d.checkpointStores()).Status(ctx, loc, f)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		},
	}
	cmd.Flags().StringVar(&saveLocation, "save-location", "", "directory to inspect (default SAVE_LOCATION)")
	cmd.Flags().StringVar(&format, "format", "", "data file format (default FILE_FORMAT)")
	return cmd
}

func (c *cli) clearCmd() *cobra.Command {
	var saveLocation, format string
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete the data files and checkpoint of a save location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loc, f, err := c.location(saveLocation, format)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			d, err := openDeps(ctx, c.cfg, depOptions{checkpoints: true})
			if err != nil {
				return err
			}
			defer d.close(ctx)
			n, err := fileio.ClearDataFiles(ctx, loc, f)
			if err != nil {
				return err
			}
			if err := d.checkpointStores()(loc).Clear(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d data files from %s\n", n, loc)
			return nil
		},
	}
	cmd.Flags().StringVar(&saveLocation, "save-location", "", "directory to clear (default SAVE_LOCATION)")
	cmd.Flags().StringVar(&format, "format", "", "data file format (default FILE_FORMAT)")
	return cmd
}

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve POST /v1/query over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg := c.cfg
			d, err := openDeps(ctx, cfg, depOptions{db: true, checkpoints: true})
			if err != nil {
				return err
			}
			defer d.close(context.Background())

			var rdb app.RedisClient
			if d.rdb != nil {
				rdb = app.RedisAdapter{Client: d.rdb}
			}
			dbCheck, redisCheck := app.BuildReadinessChecks(d.pool, rdb)
			srv := httpserver.NewServer(cfg, d.queryService(), dbCheck, redisCheck)

			srvHTTP := &http.Server{
				Addr:              fmt.Sprintf(":%d", cfg.Port),
				Handler:           app.BuildRouter(cfg, srv),
				ReadTimeout:       cfg.HTTPReadTimeout,
				WriteTimeout:      cfg.HTTPWriteTimeout,
				IdleTimeout:       cfg.HTTPIdleTimeout,
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				slog.Info("http server starting", slog.Int("port", cfg.Port))
				errCh <- srvHTTP.ListenAndServe()
			}()

			select {
			case <-ctx.Done():
				slog.Info("shutdown signal received")
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("op=serve: %w", err)
				}
				return nil
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
			defer cancel()
			return srvHTTP.Shutdown(shutdownCtx)
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		// Skip config and observability setup.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "querypanda %s\n", config.Version)
		},
	}
}

// statement picks the SQL from --sql, --sql-file or the positional argument.
func statement(sql, sqlFile string, pos []string) (string, error) {
	set := 0
	for _, s := range []string{sql, sqlFile} {
		if s != "" {
			set++
		}
	}
	if len(pos) == 1 {
		set++
		sql = pos[0]
	}
	if set != 1 {
		return "", fmt.Errorf("%w: give the statement exactly once via argument, --sql or --sql-file", domain.ErrInvalidArgument)
	}
	if sqlFile != "" {
		b, err := os.ReadFile(sqlFile)
		if err != nil {
			return "", fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
		}
		sql = string(b)
	}
	return strings.TrimSpace(sql), nil
}

func stdoutFormat(s string) (domain.Format, error) {
	if s == "" {
		return domain.FormatCSV, nil
	}
	return domain.ParseFormat(s)
}

func (c *cli) location(saveLocation, format string) (string, domain.Format, error) {
	if saveLocation == "" {
		saveLocation = c.cfg.SaveLocation
	}
	if format == "" {
		format = c.cfg.FileFormat
	}
	f, err := domain.ParseFormat(format)
	return saveLocation, f, err
}

// overrideJob replaces fields of base with the non-empty fields of flags.
func overrideJob(base, flags config.RetrievalJob) config.RetrievalJob {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&base.Query, flags.Query)
	set(&base.Start, flags.Start)
	set(&base.End, flags.End)
	set(&base.FetchFrequency, flags.FetchFrequency)
	set(&base.AggregationFrequency, flags.AggregationFrequency)
	set(&base.SaveLocation, flags.SaveLocation)
	set(&base.FileFormat, flags.FileFormat)
	return base
}

// buildRetrieveRequest parses a job whose defaults have been applied.
func buildRetrieveRequest(job config.RetrievalJob) (usecase.RetrieveRequest, error) {
	var errs []error
	req := usecase.RetrieveRequest{Query: job.Query, SaveLocation: job.SaveLocation}
	if strings.TrimSpace(job.Query) == "" {
		errs = append(errs, fmt.Errorf("%w: query required", domain.ErrInvalidArgument))
	}
	var err error
	if job.Start == "" || job.End == "" {
		errs = append(errs, fmt.Errorf("%w: start and end required", domain.ErrInvalidArgument))
	} else {
		if req.Start, err = domain.ParseTimestamp(job.Start); err != nil {
			errs = append(errs, err)
		}
		if req.End, err = domain.ParseTimestamp(job.End); err != nil {
			errs = append(errs, err)
		}
	}
	if req.FetchFrequency, err = domain.ParseFrequency(job.FetchFrequency); err != nil {
		errs = append(errs, err)
	}
	if req.Aggregation, err = domain.ParseAggregation(job.AggregationFrequency); err != nil {
		errs = append(errs, err)
	}
	if req.Format, err = domain.ParseFormat(job.FileFormat); err != nil {
		errs = append(errs, err)
	}
	return req, errors.Join(errs...)
}

func prompter(cmd *cobra.Command, onCheckpoint string) (domain.Prompter, error) {
	if onCheckpoint == "" || onCheckpoint == "prompt" {
		return prompt.Terminal{In: cmd.InOrStdin(), Out: cmd.ErrOrStderr()}, nil
	}
	d, ok := domain.ParseDecision(strings.ToLower(onCheckpoint))
	if !ok {
		return nil, fmt.Errorf("%w: --on-checkpoint must be prompt, continue, overwrite or exit", domain.ErrInvalidArgument)
	}
	return prompt.Fixed(d), nil
}

func printRetrieveResult(cmd *cobra.Command, res usecase.RetrieveResult) {
	w := cmd.ErrOrStderr()
	if res.RunID == "" {
		return
	}
	if res.Exited {
		fmt.Fprintf(w, "run %s: existing checkpoint kept, nothing fetched\n", res.RunID)
		return
	}
	fmt.Fprintf(w, "run %s: %d windows (%d empty), %d rows, %d files\n",
		res.RunID, res.Windows, res.EmptyWindows, res.Rows, len(res.Files))
	for _, u := range res.URLs {
		fmt.Fprintf(w, "uploaded %s\n", u)
	}
}
