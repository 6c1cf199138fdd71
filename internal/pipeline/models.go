package pipeline

import (
	"github.com/dvloznov/dre-reports/internal/domain"
	"github.com/dvloznov/dre-reports/internal/fetcher"
)

// Request asks for one spreadsheet to be ingested.
type Request struct {
	Source  fetcher.Source
	BatchID string // derived from the file content when empty
}

// Result reports what an ingestion run did. It is returned alongside the
// error of a failed run whenever the counts are known.
type Result struct {
	ExecutionID string             `json:"execution_id"`
	BatchID     string             `json:"batch_id"`
	SourceName  string             `json:"source_name,omitempty"`
	ArchiveURI  string             `json:"archive_uri,omitempty"`
	Records     int                `json:"records"`
	Loaded      int                `json:"loaded"`
	Skipped     int                `json:"skipped"`
	Rejected    int                `json:"rejected"`
	Rejections  []domain.Rejection `json:"rejections"`
}
