package storage

import (
	"context"
	"io"
)

type Uploader interface {
	Upload(ctx context.Context, objectName string, contentType string, r io.Reader) (storedPath string, err error)
}

// TranscriptArchiver stores the final transcript of a call outside the
// database.
type TranscriptArchiver interface {
	ArchiveTranscript(ctx context.Context, companyID, callID, transcript string) (storedPath string, err error)
}

// TranscriptObjectName is the object path for a call transcript.
func TranscriptObjectName(companyID, callID string) string {
	return "transcripts/" + companyID + "/" + callID + ".txt"
}
