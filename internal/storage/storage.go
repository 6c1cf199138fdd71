// Package storage persists raw spreadsheets to blob storage.
package storage

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

// BlobStore provides an interface for blob storage operations.
// This interface enables mocking and testing of storage functionality.
type BlobStore interface {
	// Put writes data under object in the store's bucket and returns its gs:// URI.
	Put(ctx context.Context, object string, data []byte, contentType string) (string, error)

	// Get reads an object from bucket.
	Get(ctx context.Context, bucket, object string) ([]byte, error)

	// Bucket returns the default bucket Put writes to.
	Bucket() string
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// UploadObjectName builds the object path for a raw upload:
// <prefix>dre_<UTC timestamp>_<sanitized base name>.
// e.g. ("uploads/", "Relatório DRE.xlsx") -> "uploads/dre_20240131T101500Z_Relat_rio_DRE.xlsx".
func UploadObjectName(prefix, fileName string, now time.Time) string {
	base := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		base = "upload.xlsx"
	}
	base = unsafeNameChars.ReplaceAllString(base, "_")

	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix + "dre_" + now.UTC().Format("20060102T150405Z") + "_" + base
}

// ParseURI splits gs://bucket/path/to/object into bucket and object.
func ParseURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}

	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

// URI formats bucket and object as a gs:// URI.
func URI(bucket, object string) string {
	return "gs://" + bucket + "/" + object
}

// FileName extracts the file name from a gs:// URI or object path.
// e.g., "gs://bucket/uploads/file.xlsx" -> "file.xlsx"
func FileName(uri string) string {
	trimmed := strings.TrimPrefix(uri, "gs://")
	if strings.HasPrefix(uri, "gs://") {
		parts := strings.SplitN(trimmed, "/", 2)
		if len(parts) < 2 {
			return trimmed
		}
		trimmed = parts[1]
	}
	return path.Base(trimmed)
}
