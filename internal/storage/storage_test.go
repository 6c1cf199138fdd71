package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadObjectName(t *testing.T) {
	now := time.Date(2024, 1, 31, 10, 15, 0, 0, time.FixedZone("BRT", -3*3600))

	tests := []struct {
		prefix, file, want string
	}{
		{"uploads/", "dre.xlsx", "uploads/dre_20240131T131500Z_dre.xlsx"},
		{"uploads", "Relatório DRE.xlsx", "uploads/dre_20240131T131500Z_Relat_rio_DRE.xlsx"},
		{"uploads/", `C:\tmp\export.csv`, "uploads/dre_20240131T131500Z_export.csv"},
		{"uploads/", "", "uploads/dre_20240131T131500Z_upload.xlsx"},
		{"", "a.xls", "dre_20240131T131500Z_a.xls"},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			assert.Equal(t, tt.want, UploadObjectName(tt.prefix, tt.file, now))
		})
	}
}

func TestParseURI(t *testing.T) {
	bucket, object, err := ParseURI("gs://dre_reports/uploads/dre.xlsx")
	require.NoError(t, err)
	assert.Equal(t, "dre_reports", bucket)
	assert.Equal(t, "uploads/dre.xlsx", object)

	for _, bad := range []string{"", "s3://b/o", "gs://bucket", "gs://bucket/", "gs:///object"} {
		_, _, err := ParseURI(bad)
		assert.Error(t, err, bad)
	}
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "file.xlsx", FileName("gs://bucket/folder/file.xlsx"))
	assert.Equal(t, "file.xlsx", FileName("uploads/file.xlsx"))
	assert.Equal(t, "bucket", FileName("gs://bucket"))
	assert.Equal(t, "gs://b/o", URI("b", "o"))
}
