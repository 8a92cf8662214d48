package uploader

import (
	"context"
	"io"
)

// TableStore persists manifest records.
type TableStore interface {
	// Insert writes records to table and returns how many rows were persisted.
	Insert(ctx context.Context, table string, records []ManifestRecord) (int, error)
	// UpdateImages sets the images column of every row of folderName to urls and
	// returns the number of rows updated.
	UpdateImages(ctx context.Context, table, folderName string, urls []string) (int, error)
}

// BlobStore stores media objects and resolves their URLs.
type BlobStore interface {
	Upload(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType, sha256 string) error
	PublicURL(ctx context.Context, bucket, key string) (string, error)
}

// Notifier receives folder outcome events. Delivery is best effort.
type Notifier interface {
	Publish(ctx context.Context, subject string, v any) error
}
