package uploader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"devup/pkg/metrics"
	"devup/services/uploader/config"
)

// ErrCancelled is returned by Batch.Run when the run was interrupted between folders.
var ErrCancelled = errors.New("batch cancelled")

// FolderProcessor handles one work unit. *Processor implements it.
type FolderProcessor interface {
	Process(ctx context.Context, runID string, unit WorkUnit) FolderOutcome
}

// Summary holds the run-level counters.
type Summary struct {
	RunID     string
	Root      string
	Processed int
	Succeeded int
	Failed    int
	Duration  time.Duration
}

// SuccessRate returns the percentage of processed folders that succeeded. ok is
// false when nothing was processed.
func (s Summary) SuccessRate() (rate float64, ok bool) {
	if s.Processed == 0 {
		return 0, false
	}
	return float64(s.Succeeded) / float64(s.Processed) * 100, true
}

// Batch drains the scanner's work units through a FolderProcessor, one at a time.
type Batch struct {
	cfg       config.Config
	scanner   *Scanner
	processor FolderProcessor
	metrics   *metrics.Recorder
	logger    *zap.Logger
	now       func() time.Time
	newRunID  func() string
}

func NewBatch(cfg config.Config, processor FolderProcessor, opts Options) (*Batch, error) {
	if processor == nil {
		return nil, errors.New("folder processor is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	opts = opts.withDefaults()

	return &Batch{
		cfg:       cfg,
		scanner:   NewScanner(opts.Logger),
		processor: processor,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		now:       opts.Now,
		newRunID:  func() string { return uuid.NewString() },
	}, nil
}

// Run scans the root directory and processes every pending folder. A scan failure
// is returned as *DiscoveryError before any folder is touched. Cancelling ctx stops
// the run before the next folder; the folder in flight is completed first.
func (b *Batch) Run(ctx context.Context) (Summary, error) {
	start := b.now()
	summary := Summary{RunID: b.newRunID(), Root: b.cfg.RootDir}
	log := b.logger.With(zap.String("run_id", summary.RunID))

	log.Info("starting batch upload",
		zap.String("root", b.cfg.RootDir),
		zap.String("table", b.cfg.TableName),
		zap.String("bucket", b.cfg.BucketName))

	units, err := b.scanner.Scan(b.cfg.RootDir)
	if err != nil {
		return summary, err
	}

	var runErr error
	for _, unit := range units {
		if err := ctx.Err(); err != nil {
			log.Warn("batch cancelled, stopping before next folder",
				zap.String("next_folder", unit.Name),
				zap.Int("remaining", len(units)-summary.Processed))
			runErr = fmt.Errorf("%w: %v", ErrCancelled, context.Cause(ctx))
			break
		}

		summary.Processed++
		if b.processOne(context.WithoutCancel(ctx), log, summary.RunID, unit) {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}

	summary.Duration = b.now().Sub(start)
	b.metrics.RunFinished(summary.Duration, b.now())

	fields := []zap.Field{
		zap.Int("processed", summary.Processed),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Duration("duration", summary.Duration),
	}
	if rate, ok := summary.SuccessRate(); ok {
		fields = append(fields, zap.Float64("success_rate", rate))
	}
	log.Info("batch upload finished", fields...)

	return summary, runErr
}

// processOne reports whether unit succeeded. A panic escaping the processor counts
// as a failed folder and does not stop the batch.
func (b *Batch) processOne(ctx context.Context, log *zap.Logger, runID string, unit WorkUnit) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("unexpected error processing folder",
				zap.String("folder", unit.Name),
				zap.Any("panic", r))
			b.metrics.FolderDone(false)
			ok = false
		}
	}()

	return b.processor.Process(ctx, runID, unit).OverallSuccess()
}
