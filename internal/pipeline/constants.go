package pipeline

import "github.com/google/uuid"

// batchNamespace scopes batch ids derived from file content, so the same
// bytes always map to the same batch.
var batchNamespace = uuid.MustParse("5d1c3f0e-8a57-4c1b-9b0e-3f6a2d7c9e41")

// MaxReportedRejections caps the rejections returned to callers. Counts are
// always complete.
const MaxReportedRejections = 200

// BatchIDFor returns the batch id for a file with the given SHA-256 hex digest.
func BatchIDFor(contentHash string) string {
	return uuid.NewSHA1(batchNamespace, []byte(contentHash)).String()
}
