// Package backend implements the uploader's table and blob stores on Postgres
// and S3-compatible object storage.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"devup/pkg/db"
	"devup/services/uploader"
)

var recordColumns = []string{
	"folder_name",
	"data_type",
	"raw_data",
	"device_id",
	"device_name",
	"device_type",
	"test_results",
	"test_date",
	"test_status",
	"upload_batch",
	"notes",
	"metadata",
}

// Tables writes manifest records to Postgres.
type Tables struct {
	pool *pgxpool.Pool
}

var _ uploader.TableStore = (*Tables)(nil)

func NewTables(pool *pgxpool.Pool) (*Tables, error) {
	if pool == nil {
		return nil, errors.New("database pool is required")
	}
	return &Tables{pool: pool}, nil
}

// Insert writes all records in one statement and returns the number of rows the
// database reports back.
func (t *Tables) Insert(ctx context.Context, table string, records []uploader.ManifestRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	query, args, err := buildInsert(table, records)
	if err != nil {
		return 0, err
	}

	var ids []int64
	if err := db.Select(ctx, t.pool, &ids, query, args...); err != nil {
		return 0, fmt.Errorf("insert into %s: %w", table, err)
	}
	return len(ids), nil
}

// UpdateImages replaces the images column of every row belonging to folderName.
func (t *Tables) UpdateImages(ctx context.Context, table, folderName string, urls []string) (int, error) {
	query, args, err := buildUpdateImages(table, folderName, urls)
	if err != nil {
		return 0, err
	}

	tag, err := db.Exec(ctx, t.pool, query, args...)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", table, err)
	}
	return int(tag.RowsAffected()), nil
}

func buildInsert(table string, records []uploader.ManifestRecord) (string, []any, error) {
	quoted, err := db.QuoteTable(table)
	if err != nil {
		return "", nil, err
	}

	var (
		sb   strings.Builder
		args = make([]any, 0, len(records)*len(recordColumns))
	)
	sb.WriteString("INSERT INTO ")
	sb.WriteString(quoted)
	sb.WriteString(" (")
	sb.WriteString(strings.Join(recordColumns, ", "))
	sb.WriteString(")\nVALUES ")

	for i, rec := range records {
		if i > 0 {
			sb.WriteString(",\n       ")
		}
		row := recordArgs(rec)
		sb.WriteString("(")
		for j := range row {
			if j > 0 {
				sb.WriteString(", ")
			}
			n := len(args) + j + 1
			switch recordColumns[j] {
			case "raw_data", "test_results", "metadata":
				fmt.Fprintf(&sb, "$%d::jsonb", n)
			default:
				fmt.Fprintf(&sb, "$%d", n)
			}
		}
		sb.WriteString(")")
		args = append(args, row...)
	}
	sb.WriteString("\nRETURNING id")

	return sb.String(), args, nil
}

// recordArgs orders a record's values like recordColumns. JSON columns are passed
// as text so the simple query protocol can cast them.
func recordArgs(rec uploader.ManifestRecord) []any {
	return []any{
		rec.FolderName,
		rec.DataType,
		jsonText(rec.RawData),
		rec.DeviceID,
		rec.DeviceName,
		rec.DeviceType,
		jsonText(rec.TestResults),
		rec.TestDate,
		rec.TestStatus,
		rec.UploadBatch,
		rec.Notes,
		jsonText(rec.Metadata),
	}
}

func jsonText(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func buildUpdateImages(table, folderName string, urls []string) (string, []any, error) {
	quoted, err := db.QuoteTable(table)
	if err != nil {
		return "", nil, err
	}
	if folderName == "" {
		return "", nil, errors.New("folder name is required")
	}
	if urls == nil {
		urls = []string{}
	}
	images, err := json.Marshal(urls)
	if err != nil {
		return "", nil, err
	}

	query := fmt.Sprintf(`
UPDATE %s
SET images = $1::jsonb
WHERE folder_name = $2
`, quoted)
	return query, []any{string(images), folderName}, nil
}
