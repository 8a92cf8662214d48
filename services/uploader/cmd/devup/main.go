package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"devup/pkg/bus"
	"devup/pkg/db"
	"devup/pkg/metrics"
	"devup/pkg/render"
	gos3 "devup/pkg/s3"
	"devup/pkg/telemetry"
	"devup/services/uploader"
	"devup/services/uploader/backend"
	"devup/services/uploader/config"
)

const (
	serviceName = "devup"
	streamName  = "DEVUP"
)

// errFoldersFailed makes the process exit non-zero without printing another error.
var errFoldersFailed = errors.New("one or more folders failed")

func main() {
	if err := newRootCommand().Execute(); err != nil {
		if !errors.Is(err, errFoldersFailed) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

type flags struct {
	configPath    string
	table         string
	bucket        string
	maxAttempts   int
	baseDelay     time.Duration
	maxImageBytes int64
	migrate       bool
	urlMode       string
	logLevel      string
	logFormat     string
}

func newRootCommand() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:           "devup [root]",
		Short:         "Upload device test folders to the database and object storage",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f, args)
			if err != nil {
				return err
			}
			return runUpload(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&f.configPath, "config", os.Getenv("DEVUP_CONFIG"), "Optional YAML config file")
	pf.StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVar(&f.logFormat, "log-format", "", "Log format (json or console)")

	fl := cmd.Flags()
	fl.StringVar(&f.table, "table", "", "Destination table name")
	fl.StringVar(&f.bucket, "bucket", "", "Destination bucket name")
	fl.IntVar(&f.maxAttempts, "max-attempts", 0, "Attempts per network operation")
	fl.DurationVar(&f.baseDelay, "base-delay", 0, "Backoff delay before the first retry")
	fl.Int64Var(&f.maxImageBytes, "max-image-bytes", 0, "Largest image accepted for upload")
	fl.BoolVar(&f.migrate, "migrate", false, "Apply database migrations before uploading")
	fl.StringVar(&f.urlMode, "url-mode", "", "Image URL mode (public or presign)")

	cmd.AddCommand(newStatusCommand(&f))
	return cmd
}

func loadConfig(cmd *cobra.Command, f flags, args []string) (config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return config.Config{}, err
	}

	if len(args) == 1 {
		cfg.RootDir = args[0]
	}
	changed := cmd.Flags().Changed
	if changed("table") {
		cfg.TableName = f.table
	}
	if changed("bucket") {
		cfg.BucketName = f.bucket
	}
	if changed("max-attempts") {
		cfg.Retry.MaxAttempts = f.maxAttempts
	}
	if changed("base-delay") {
		cfg.Retry.BaseDelay = f.baseDelay
	}
	if changed("max-image-bytes") {
		cfg.MaxImageBytes = f.maxImageBytes
	}
	if changed("migrate") {
		cfg.Migrate = f.migrate
	}
	if changed("url-mode") {
		cfg.URLMode = f.urlMode
	}
	if changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if changed("log-format") {
		cfg.LogFormat = f.logFormat
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func runUpload(parent context.Context, cfg config.Config, stdout io.Writer) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, logger, err := telemetry.Init(ctx, serviceName, telemetry.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "%s: telemetry shutdown error: %v\n", serviceName, err)
		}
	}()

	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	if cfg.Migrate {
		if err := db.Migrate(ctx, pool); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		logger.Info("database migrations applied")
	}

	s3Client, err := gos3.NewClientFromEnv(ctx)
	if err != nil {
		return fmt.Errorf("init s3 client: %w", err)
	}
	if err := s3Client.HeadBucket(ctx, cfg.BucketName); err != nil {
		return fmt.Errorf("check bucket %s: %w", cfg.BucketName, err)
	}

	tables, err := backend.NewTables(pool)
	if err != nil {
		return err
	}
	blobs, err := backend.NewBlobs(s3Client, cfg.URLMode, cfg.PresignTTL)
	if err != nil {
		return err
	}

	rec := metrics.New()
	opts := uploader.Options{Logger: logger, Metrics: rec}

	if cfg.NATSURL != "" {
		b, err := bus.New(cfg.NATSURL)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer b.Close()
		if err := b.EnsureStream(streamName, "devup.>"); err != nil {
			return fmt.Errorf("ensure stream: %w", err)
		}
		opts.Notifier = b
	}

	processor, err := uploader.NewProcessor(cfg, tables, blobs, opts)
	if err != nil {
		return err
	}
	batch, err := uploader.NewBatch(cfg, processor, opts)
	if err != nil {
		return err
	}

	summary, runErr := batch.Run(ctx)

	var discoveryErr *uploader.DiscoveryError
	if errors.As(runErr, &discoveryErr) {
		return runErr
	}

	if err := printSummary(stdout, summary); err != nil {
		logger.Warn("failed to print summary", zap.Error(err))
	}

	if cfg.PushgatewayURL != "" {
		pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		if err := rec.Push(pushCtx, cfg.PushgatewayURL, serviceName); err != nil {
			logger.Warn("failed to push metrics", zap.String("gateway", cfg.PushgatewayURL), zap.Error(err))
		}
		cancel()
	}

	if runErr != nil {
		return runErr
	}
	if summary.Failed > 0 {
		return errFoldersFailed
	}
	return nil
}

// summaryView is the data the "summary" report template renders.
type summaryView struct {
	RunID     string
	Root      string
	Processed int
	Succeeded int
	Failed    int
	Rate      float64
	HasRate   bool
	Duration  string
}

// printSummary writes the end-of-run report.
func printSummary(w io.Writer, s uploader.Summary) error {
	engine, err := render.New()
	if err != nil {
		return err
	}
	view := summaryView{
		RunID:     s.RunID,
		Root:      s.Root,
		Processed: s.Processed,
		Succeeded: s.Succeeded,
		Failed:    s.Failed,
		Duration:  s.Duration.Round(time.Millisecond).String(),
	}
	view.Rate, view.HasRate = s.SuccessRate()
	return engine.Execute(w, "summary", view)
}

func newStatusCommand(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "status [root]",
		Short: "Show the upload state of every folder under root",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(f.configPath)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				cfg.RootDir = args[0]
			}
			statuses, err := uploader.Statuses(cfg.RootDir)
			if err != nil {
				return err
			}
			printStatuses(cmd.OutOrStdout(), statuses)
			return nil
		},
	}
}

func printStatuses(w io.Writer, statuses []uploader.FolderStatus) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FOLDER\tSTATE\tRECORDS\tIMAGES\tPROCESSED\tERROR")
	for _, st := range statuses {
		records, images, processed, msg := "-", "-", "-", ""
		if st.Marker != nil {
			m := st.Marker
			records = fmt.Sprint(m.JSONUpload.RecordsInserted)
			images = fmt.Sprintf("%d/%d", m.ImageUpload.SuccessfulUploads, m.ImageUpload.TotalImages)
			processed = m.Timestamp
			switch {
			case m.Error != "":
				msg = m.Error
			case m.JSONUpload.Error != nil:
				msg = *m.JSONUpload.Error
			case len(m.ImageUpload.FailedImages) > 0:
				msg = fmt.Sprintf("%d image(s) failed", len(m.ImageUpload.FailedImages))
			}
		}
		if st.Err != nil {
			msg = st.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", st.Name, st.State, records, images, processed, msg)
	}
	tw.Flush()
}
