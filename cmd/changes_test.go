package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stine-notifier/stine/pkg/core"
)

func TestParseSince(t *testing.T) {
	now := time.Date(2022, 9, 10, 12, 0, 0, 0, time.UTC)

	got, err := parseSince("24h", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-24*time.Hour), got)

	got, err = parseSince("2022-09-01T08:00:00Z", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2022, 9, 1, 8, 0, 0, 0, time.UTC), got)

	_, err = parseSince("yesterday", now)
	assert.ErrorIs(t, err, core.ErrConfig)
	_, err = parseSince("-1h", now)
	assert.ErrorIs(t, err, core.ErrConfig)
}
