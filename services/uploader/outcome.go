package uploader

import (
	"encoding/json"
	"time"
	"unicode/utf8"
)

// ManifestStatus tags how the manifest stage of a folder ended.
type ManifestStatus int

const (
	ManifestNotRun ManifestStatus = iota
	ManifestInserted
	ManifestNone
	ManifestMultiple
	ManifestReadError
	ManifestParseError
	ManifestUnsupported
	ManifestEmpty
	ManifestInsertFailed
)

func (s ManifestStatus) String() string {
	switch s {
	case ManifestInserted:
		return "inserted"
	case ManifestNone:
		return "no_manifest"
	case ManifestMultiple:
		return "multiple_manifests"
	case ManifestReadError:
		return "read_error"
	case ManifestParseError:
		return "parse_error"
	case ManifestUnsupported:
		return "unsupported_shape"
	case ManifestEmpty:
		return "no_records"
	case ManifestInsertFailed:
		return "insert_failed"
	default:
		return "not_run"
	}
}

// ManifestOutcome is the result of the manifest stage.
type ManifestOutcome struct {
	Status          ManifestStatus
	Candidates      int
	Filename        string
	RecordsInserted int
	Attempts        int
	Err             string
	// Source is the manifest text when it was read and parsed; used for the preview.
	Source json.RawMessage
}

func (m ManifestOutcome) Inserted() bool { return m.Status == ManifestInserted }

// FolderOutcome aggregates one folder's run.
type FolderOutcome struct {
	RunID       string
	Folder      WorkUnit
	ProcessedAt time.Time
	Manifest    ManifestOutcome
	Media       []MediaUploadResult
	// Fault is set when a stage failed outside the manifest and media bookkeeping,
	// for example an unreadable folder or a recovered panic.
	Fault string

	BackfilledRows int
	MarkerPath     string
	MarkerErr      error
}

func (o FolderOutcome) Succeeded() []MediaUploadResult {
	var out []MediaUploadResult
	for _, r := range o.Media {
		if r.OK() {
			out = append(out, r)
		}
	}
	return out
}

func (o FolderOutcome) Failed() []MediaUploadResult {
	var out []MediaUploadResult
	for _, r := range o.Media {
		if !r.OK() {
			out = append(out, r)
		}
	}
	return out
}

// OverallSuccess requires an inserted manifest and no failed media. A folder
// without media succeeds on its manifest alone; a folder without a manifest
// never succeeds.
func (o FolderOutcome) OverallSuccess() bool {
	if o.Fault != "" || !o.Manifest.Inserted() {
		return false
	}
	succeeded := len(o.Succeeded())
	failed := len(o.Media) - succeeded
	return failed == 0 && (len(o.Media) == 0 || succeeded > 0)
}

// MarkerName is the marker file the outcome is persisted to.
func (o FolderOutcome) MarkerName() string {
	if o.OverallSuccess() {
		return SuccessMarker
	}
	return FailureMarker
}

// MarkerDocument is the JSON persisted in a folder's marker file.
type MarkerDocument struct {
	Timestamp   string            `json:"timestamp"`
	RunID       string            `json:"run_id"`
	FolderName  string            `json:"folder_name"`
	FolderPath  string            `json:"folder_path"`
	TableName   string            `json:"table_name"`
	BucketName  string            `json:"bucket_name"`
	Error       string            `json:"error,omitempty"`
	JSONUpload  JSONUploadReport  `json:"json_upload"`
	ImageUpload ImageUploadReport `json:"image_upload"`
	Summary     SummaryReport     `json:"summary"`
}

type JSONUploadReport struct {
	Success         bool    `json:"success"`
	Filename        *string `json:"filename"`
	RecordsInserted int     `json:"records_inserted"`
	Error           *string `json:"error"`
	DataPreview     any     `json:"data_preview"`
}

type ImageUploadReport struct {
	TotalImages       int             `json:"total_images"`
	SuccessfulUploads int             `json:"successful_uploads"`
	FailedUploads     int             `json:"failed_uploads"`
	UploadedImages    []UploadedImage `json:"uploaded_images"`
	FailedImages      []FailedImage   `json:"failed_images"`
}

type UploadedImage struct {
	Filename    string `json:"filename"`
	StoragePath string `json:"storage_path"`
	PublicURL   string `json:"public_url"`
	SizeBytes   int64  `json:"size_bytes"`
	SHA256      string `json:"sha256,omitempty"`
}

type FailedImage struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

type SummaryReport struct {
	OverallSuccess       bool `json:"overall_success"`
	TotalFilesProcessed  int  `json:"total_files_processed"`
	SuccessfulOperations int  `json:"successful_operations"`
	FailedOperations     int  `json:"failed_operations"`
}

const previewLimit = 200

// Document renders the outcome for the marker file.
func (o FolderOutcome) Document(tableName, bucketName string) MarkerDocument {
	doc := MarkerDocument{
		Timestamp:  o.ProcessedAt.Format(time.RFC3339Nano),
		RunID:      o.RunID,
		FolderName: o.Folder.Name,
		FolderPath: o.Folder.Path,
		TableName:  tableName,
		BucketName: bucketName,
		Error:      o.Fault,
		JSONUpload: JSONUploadReport{
			Success:         o.Manifest.Inserted(),
			RecordsInserted: o.Manifest.RecordsInserted,
			DataPreview:     dataPreview(o.Manifest.Source),
		},
		ImageUpload: ImageUploadReport{
			TotalImages:    len(o.Media),
			UploadedImages: []UploadedImage{},
			FailedImages:   []FailedImage{},
		},
	}
	if o.Manifest.Filename != "" {
		name := o.Manifest.Filename
		doc.JSONUpload.Filename = &name
	}
	if o.Manifest.Err != "" {
		msg := o.Manifest.Err
		doc.JSONUpload.Error = &msg
	}

	for _, r := range o.Media {
		if r.OK() {
			doc.ImageUpload.UploadedImages = append(doc.ImageUpload.UploadedImages, UploadedImage{
				Filename:    r.Asset.Filename,
				StoragePath: r.Asset.StorageKey,
				PublicURL:   r.PublicURL,
				SizeBytes:   r.Asset.SizeBytes,
				SHA256:      r.SHA256,
			})
			continue
		}
		doc.ImageUpload.FailedImages = append(doc.ImageUpload.FailedImages, FailedImage{
			Filename: r.Asset.Filename,
			Error:    r.Reason,
		})
	}
	doc.ImageUpload.SuccessfulUploads = len(doc.ImageUpload.UploadedImages)
	doc.ImageUpload.FailedUploads = len(doc.ImageUpload.FailedImages)

	manifestOK, manifestFailed := 0, 0
	if o.Manifest.Inserted() {
		manifestOK = 1
	}
	if o.Manifest.Err != "" {
		manifestFailed = 1
	}
	doc.Summary = SummaryReport{
		OverallSuccess:       o.OverallSuccess(),
		TotalFilesProcessed:  o.Manifest.Candidates + len(o.Media),
		SuccessfulOperations: manifestOK + doc.ImageUpload.SuccessfulUploads,
		FailedOperations:     manifestFailed + doc.ImageUpload.FailedUploads,
	}
	return doc
}

// dataPreview embeds short manifests as JSON and truncates long ones to a string
// of previewLimit characters followed by "...".
func dataPreview(src json.RawMessage) any {
	if len(src) == 0 {
		return nil
	}
	if utf8.RuneCount(src) <= previewLimit {
		return src
	}
	runes := []rune(string(src))
	return string(runes[:previewLimit]) + "..."
}
