package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"devup/pkg/metrics"
	"devup/pkg/retry"
	"devup/services/uploader/config"
)

// FolderCompletedSubject is the bus subject folder outcomes are published to.
const FolderCompletedSubject = "devup.folders.completed"

const tracerName = "devup/services/uploader"

// Options carries the optional collaborators of a Processor or Batch.
type Options struct {
	Logger   *zap.Logger
	Metrics  *metrics.Recorder
	Notifier Notifier
	Now      func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Processor runs the upload pipeline for one folder: classify, insert the
// manifest, upload media, back-fill image URLs and write the marker file.
type Processor struct {
	cfg         config.Config
	policy      retry.Policy
	tables      TableStore
	classifier  *Classifier
	transformer *Transformer
	media       *MediaUploader
	notifier    Notifier
	metrics     *metrics.Recorder
	logger      *zap.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewProcessor wires a Processor for cfg.
func NewProcessor(cfg config.Config, tables TableStore, blobs BlobStore, opts Options) (*Processor, error) {
	if tables == nil {
		return nil, errors.New("table store is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	opts = opts.withDefaults()

	policy := retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
	}
	media, err := NewMediaUploader(blobs, cfg.BucketName, cfg.MaxImageBytes, policy, opts.Logger, opts.Metrics)
	if err != nil {
		return nil, err
	}

	return &Processor{
		cfg:         cfg,
		policy:      policy,
		tables:      tables,
		classifier:  NewClassifier(opts.Logger),
		transformer: NewTransformer(opts.Logger),
		media:       media,
		notifier:    opts.Notifier,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		tracer:      otel.Tracer(tracerName),
		now:         opts.Now,
	}, nil
}

// Process runs every stage for unit and persists the outcome marker. It never
// fails: problems are recorded in the returned outcome.
func (p *Processor) Process(ctx context.Context, runID string, unit WorkUnit) FolderOutcome {
	ctx, span := p.tracer.Start(ctx, "folder.process", trace.WithAttributes(
		attribute.String("folder.name", unit.Name),
		attribute.String("run.id", runID),
	))
	defer span.End()

	log := p.logger.With(zap.String("folder", unit.Name))
	log.Info("processing folder", zap.String("path", unit.Path))

	out := FolderOutcome{RunID: runID, Folder: unit}
	p.runStages(ctx, log, &out)

	out.ProcessedAt = p.now()
	p.finalize(ctx, log, &out)

	span.SetAttributes(
		attribute.Bool("folder.success", out.OverallSuccess()),
		attribute.String("manifest.status", out.Manifest.Status.String()),
		attribute.Int("media.total", len(out.Media)),
	)
	if !out.OverallSuccess() {
		span.SetStatus(codes.Error, "folder failed")
	}
	return out
}

// runStages executes stages 1-4. A panic in any stage becomes a folder fault.
func (p *Processor) runStages(ctx context.Context, log *zap.Logger, out *FolderOutcome) {
	defer func() {
		if r := recover(); r != nil {
			out.Fault = fmt.Sprintf("unexpected error: %v", r)
			log.Error("folder processing panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	artifacts, err := p.classify(ctx, out.Folder.Path)
	if err != nil {
		out.Fault = err.Error()
		log.Error("cannot classify folder", zap.Error(err))
		return
	}
	log.Info("classified folder",
		zap.Int("manifests", len(artifacts.Manifests)),
		zap.Int("media", len(artifacts.Media)))

	out.Manifest = p.insertManifest(ctx, log, out.Folder, artifacts.Manifests)
	out.Media = p.uploadMedia(ctx, out.Folder, artifacts.Media)

	if out.Manifest.Inserted() {
		if urls := publicURLs(out.Media); len(urls) > 0 {
			out.BackfilledRows = p.backfill(ctx, log, out.Folder.Name, urls)
		}
	}
}

func (p *Processor) classify(ctx context.Context, dir string) (Artifacts, error) {
	_, span := p.tracer.Start(ctx, "folder.classify")
	defer span.End()

	artifacts, err := p.classifier.Classify(dir)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return artifacts, err
}

func (p *Processor) insertManifest(ctx context.Context, log *zap.Logger, unit WorkUnit, manifests []string) ManifestOutcome {
	ctx, span := p.tracer.Start(ctx, "folder.manifest")
	defer span.End()

	res := p.loadManifest(ctx, log, unit, manifests)
	span.SetAttributes(
		attribute.String("manifest.status", res.Status.String()),
		attribute.Int("manifest.records", res.RecordsInserted),
	)
	if res.Err != "" {
		span.SetStatus(codes.Error, res.Err)
		log.Warn("manifest stage failed", zap.String("status", res.Status.String()), zap.String("error", res.Err))
	}
	return res
}

func (p *Processor) loadManifest(ctx context.Context, log *zap.Logger, unit WorkUnit, manifests []string) ManifestOutcome {
	res := ManifestOutcome{Candidates: len(manifests)}

	switch len(manifests) {
	case 0:
		res.Status = ManifestNone
		res.Err = "no JSON files found in folder"
		return res
	case 1:
		res.Filename = manifests[0]
	default:
		res.Status = ManifestMultiple
		res.Filename = manifests[0]
		res.Err = fmt.Sprintf("multiple JSON files found: [%s], expected only one", strings.Join(manifests, ", "))
		return res
	}

	data, err := os.ReadFile(filepath.Join(unit.Path, res.Filename))
	if err != nil {
		res.Status = ManifestReadError
		res.Err = fmt.Sprintf("read %s: %v", res.Filename, err)
		return res
	}

	var compact bytes.Buffer
	if utf8.Valid(data) && json.Compact(&compact, data) == nil {
		res.Source = compact.Bytes()
	}

	records, err := p.transformer.Transform(unit.Name, data)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			res.Status = ManifestUnsupported
			res.Err = fmt.Sprintf("%s in %s (not an object or array)", verr.Reason, res.Filename)
		} else {
			res.Status = ManifestParseError
			res.Err = fmt.Sprintf("error decoding JSON from %s: %v", res.Filename, err)
		}
		return res
	}

	if len(records) == 0 {
		res.Status = ManifestEmpty
		res.Err = "no valid records found in JSON array"
		return res
	}

	policy := p.policy
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		p.metrics.Retry("insert")
		log.Warn("manifest insert attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))
	}

	var inserted int
	err = retry.Do(ctx, policy, func(ctx context.Context) error {
		res.Attempts++
		n, err := p.tables.Insert(ctx, p.cfg.TableName, records)
		if err != nil {
			return err
		}
		if n < 1 {
			return retry.Permanent(errors.New("backend reported no persisted rows"))
		}
		inserted = n
		return nil
	})
	if err != nil {
		res.Status = ManifestInsertFailed
		res.Err = fmt.Sprintf("error uploading %s after %d attempt(s): %v", res.Filename, res.Attempts, err)
		return res
	}

	res.Status = ManifestInserted
	res.RecordsInserted = inserted
	p.metrics.RecordsInserted(inserted)
	log.Info("inserted manifest records",
		zap.String("file", res.Filename),
		zap.Int("rows", inserted),
		zap.String("table", p.cfg.TableName))
	return res
}

func (p *Processor) uploadMedia(ctx context.Context, unit WorkUnit, files []string) []MediaUploadResult {
	ctx, span := p.tracer.Start(ctx, "folder.media", trace.WithAttributes(attribute.Int("media.count", len(files))))
	defer span.End()

	results := p.media.UploadAll(ctx, unit.Name, unit.Path, files)
	failed := 0
	for _, r := range results {
		if !r.OK() {
			failed++
		}
	}
	span.SetAttributes(attribute.Int("media.failed", failed))
	if failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d media upload(s) failed", failed))
	}
	return results
}

// backfill writes the uploaded URLs onto the folder's rows. Failure is only logged:
// the inserted rows stay in place.
func (p *Processor) backfill(ctx context.Context, log *zap.Logger, folderName string, urls []string) int {
	ctx, span := p.tracer.Start(ctx, "folder.backfill", trace.WithAttributes(attribute.Int("images", len(urls))))
	defer span.End()

	policy := p.policy
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		p.metrics.Retry("backfill")
		log.Warn("image url back-fill attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))
	}

	var updated int
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		n, err := p.tables.UpdateImages(ctx, p.cfg.TableName, folderName, urls)
		updated = n
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn("failed to update records with image urls", zap.Error(err))
		return 0
	}
	if updated == 0 {
		log.Warn("image url back-fill matched no rows")
		return 0
	}
	log.Info("updated records with image urls", zap.Int("rows", updated), zap.Int("images", len(urls)))
	return updated
}

func (p *Processor) finalize(ctx context.Context, log *zap.Logger, out *FolderOutcome) {
	ctx, span := p.tracer.Start(ctx, "folder.finalize")
	defer span.End()

	success := out.OverallSuccess()
	doc := out.Document(p.cfg.TableName, p.cfg.BucketName)
	path, err := WriteMarker(out.Folder.Path, doc, success)
	out.MarkerPath = path
	if err != nil {
		out.MarkerErr = err
		span.RecordError(err)
		log.Error("failed to write result marker", zap.String("marker", out.MarkerName()), zap.Error(err))
	} else {
		log.Info("result marker written", zap.String("marker", path))
	}

	p.metrics.FolderDone(success)

	if success {
		log.Info("folder processed successfully")
	} else {
		log.Warn("folder processed with errors",
			zap.String("manifest_status", out.Manifest.Status.String()),
			zap.Int("media_failed", len(out.Failed())))
	}

	if p.notifier == nil {
		return
	}
	event := map[string]any{
		"run_id":           out.RunID,
		"folder_name":      out.Folder.Name,
		"overall_success":  success,
		"manifest_status":  out.Manifest.Status.String(),
		"records_inserted": out.Manifest.RecordsInserted,
		"images_uploaded":  len(out.Succeeded()),
		"images_failed":    len(out.Failed()),
		"marker":           out.MarkerName(),
		"processed_at":     out.ProcessedAt,
	}
	if err := p.notifier.Publish(ctx, FolderCompletedSubject, event); err != nil {
		log.Warn("failed to publish folder outcome", zap.Error(err))
	}
}

func publicURLs(results []MediaUploadResult) []string {
	var urls []string
	for _, r := range results {
		if r.OK() {
			urls = append(urls, r.PublicURL)
		}
	}
	return urls
}
