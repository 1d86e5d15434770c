package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndList(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := s.Record(ctx, Run{
		StartedAt: base, FinishedAt: base.Add(time.Minute),
		BaseURL: "https://coolify.example.com", Repository: "https://github.com/acme/app", Branch: "main",
		State: "Failed", FailedStep: "Authenticated", Error: "authentication failed",
	})
	require.NoError(t, err)

	id, err := s.Record(ctx, Run{
		StartedAt: base.Add(time.Hour), FinishedAt: base.Add(time.Hour + time.Minute),
		BaseURL: "https://coolify.example.com", Repository: "https://github.com/acme/app", Branch: "main",
		State: "Submitted", ProjectID: "p1", EnvironmentID: "e1", ApplicationID: "a1",
	})
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	runs, err := s.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, "Submitted", runs[0].State)
	assert.True(t, runs[0].Succeeded())
	assert.Equal(t, "a1", runs[0].ApplicationID)
	assert.True(t, runs[0].StartedAt.Equal(base.Add(time.Hour)))

	assert.Equal(t, "Authenticated", runs[1].FailedStep)
	assert.False(t, runs[1].Succeeded())

	limited, err := s.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestLastApplication(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	none, err := s.LastApplication(ctx, "https://c.example.com", "r")
	require.NoError(t, err)
	assert.Nil(t, none)

	now := time.Now()
	_, err = s.Record(ctx, Run{StartedAt: now, FinishedAt: now, BaseURL: "https://c.example.com", Repository: "r", State: "Submitted", ApplicationID: "a1"})
	require.NoError(t, err)
	_, err = s.Record(ctx, Run{StartedAt: now.Add(time.Second), FinishedAt: now, BaseURL: "https://c.example.com", Repository: "r", State: "Failed", FailedStep: "Deployed", ApplicationID: "a2"})
	require.NoError(t, err)

	last, err := s.LastApplication(ctx, "https://c.example.com", "r")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "a1", last.ApplicationID)
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open(context.Background(), "")
	assert.Error(t, err)
}
