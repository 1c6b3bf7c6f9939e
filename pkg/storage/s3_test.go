package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummaryKey(t *testing.T) {
	assert.Equal(t, "summaries/math/abc.md", SummaryKey("math", "abc"))
	assert.Equal(t, "summaries/math/abc.md", SummaryKey("../math", "x/../abc"))
}

func TestPresignedDownloadURL(t *testing.T) {
	s, err := NewS3(context.Background(), S3Config{
		Region:          "us-east-1",
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "secret",
		SummariesBucket: "class-summaries",
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 15*time.Minute, s.PresignExpire())
	assert.Equal(t, "class-summaries", s.SummariesBucket())

	u, err := s.GeneratePresignedDownloadURL(context.Background(), s.SummariesBucket(), SummaryKey("math", "abc"), time.Minute)
	require.NoError(t, err)
	assert.Contains(t, u, "class-summaries")
	assert.Contains(t, u, "summaries/math/abc.md")
	assert.Contains(t, u, "X-Amz-Signature=")
	assert.Contains(t, u, "X-Amz-Expires=60")
}
