package uploader

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"go.uber.org/zap"
)

const (
	DefaultDataType   = "device_test"
	DefaultTestStatus = "pending"
)

// ManifestRecord is one table row derived from one manifest object. RawData keeps
// the source object byte-for-byte; the other fields are convenience projections.
type ManifestRecord struct {
	FolderName  string          `json:"folder_name"`
	DataType    string          `json:"data_type"`
	RawData     json.RawMessage `json:"raw_data"`
	DeviceID    *string         `json:"device_id"`
	DeviceName  *string         `json:"device_name"`
	DeviceType  *string         `json:"device_type"`
	TestResults json.RawMessage `json:"test_results"`
	TestDate    *string         `json:"test_date"`
	TestStatus  string          `json:"test_status"`
	UploadBatch *string         `json:"upload_batch"`
	Notes       *string         `json:"notes"`
	Metadata    json.RawMessage `json:"metadata"`
}

// ErrInvalidUTF8 is returned for manifests that are not UTF-8 text.
var ErrInvalidUTF8 = errors.New("manifest is not valid UTF-8")

// ValidationError reports a manifest whose JSON is well-formed but not usable.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// Transformer normalizes manifest JSON into ManifestRecords.
type Transformer struct {
	logger *zap.Logger
}

func NewTransformer(logger *zap.Logger) *Transformer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transformer{logger: logger}
}

// Transform turns a manifest into records: an object yields one record, an array
// yields one record per object element. Non-object array elements are skipped.
// Any other top-level value is a *ValidationError.
func (t *Transformer) Transform(folderName string, data []byte) ([]ManifestRecord, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("decode JSON: %w", ErrInvalidUTF8)
	}
	var doc json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode JSON: %w", err)
	}
	trimmed := bytes.TrimSpace(doc)

	switch jsonKind(trimmed) {
	case "object":
		rec, err := recordFromObject(folderName, trimmed)
		if err != nil {
			return nil, err
		}
		return []ManifestRecord{rec}, nil

	case "array":
		var elems []json.RawMessage
		if err := json.Unmarshal(trimmed, &elems); err != nil {
			return nil, fmt.Errorf("decode JSON array: %w", err)
		}
		records := make([]ManifestRecord, 0, len(elems))
		for i, elem := range elems {
			elem = bytes.TrimSpace(elem)
			if kind := jsonKind(elem); kind != "object" {
				t.logger.Warn("skipping non-object manifest element",
					zap.String("folder", folderName),
					zap.Int("index", i),
					zap.String("kind", kind))
				continue
			}
			rec, err := recordFromObject(folderName, elem)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			records = append(records, rec)
		}
		return records, nil

	default:
		return nil, &ValidationError{Reason: "unsupported JSON shape"}
	}
}

func recordFromObject(folderName string, raw json.RawMessage) (ManifestRecord, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return ManifestRecord{}, fmt.Errorf("decode JSON object: %w", err)
	}

	rec := ManifestRecord{
		FolderName:  folderName,
		DataType:    DefaultDataType,
		RawData:     append(json.RawMessage(nil), raw...),
		DeviceID:    scalarField(fields, "device_id"),
		DeviceName:  scalarField(fields, "device_name"),
		DeviceType:  scalarField(fields, "device_type"),
		TestResults: jsonField(fields, "test_results"),
		TestDate:    scalarField(fields, "test_date"),
		TestStatus:  DefaultTestStatus,
		UploadBatch: scalarField(fields, "upload_batch"),
		Notes:       scalarField(fields, "notes"),
		Metadata:    jsonField(fields, "metadata"),
	}
	if v := scalarField(fields, "data_type"); v != nil && *v != "" {
		rec.DataType = *v
	}
	if v := scalarField(fields, "test_status"); v != nil && *v != "" {
		rec.TestStatus = *v
	}
	if rec.Metadata == nil {
		rec.Metadata = json.RawMessage(`{}`)
	}
	return rec, nil
}

// scalarField returns a string, number or boolean field as text. Missing, null and
// structured values give nil; they remain available in RawData.
func scalarField(fields map[string]json.RawMessage, key string) *string {
	raw, ok := fields[key]
	if !ok {
		return nil
	}
	raw = bytes.TrimSpace(raw)
	switch jsonKind(raw) {
	case "string":
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil
		}
		return &s
	case "number", "boolean":
		s := string(raw)
		return &s
	default:
		return nil
	}
}

func jsonField(fields map[string]json.RawMessage, key string) json.RawMessage {
	raw, ok := fields[key]
	if !ok {
		return nil
	}
	raw = bytes.TrimSpace(raw)
	if jsonKind(raw) == "null" {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

// jsonKind names the kind of an already-valid JSON value from its first byte.
func jsonKind(raw []byte) string {
	if len(raw) == 0 {
		return "empty"
	}
	switch raw[0] {
	case '{':
		return "object"
	case '[':
		return "array"
	case '"':
		return "string"
	case 't', 'f':
		return "boolean"
	case 'n':
		return "null"
	default:
		return "number"
	}
}
