package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTranscriptObjectName(t *testing.T) {
	assert.Equal(t, "transcripts/co-1/call-9.txt", TranscriptObjectName("co-1", "call-9"))
}
