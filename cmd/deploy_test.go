package cmd

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/bgdnvk/coolctl/internal/deploykey"
	"github.com/bgdnvk/coolctl/internal/history"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreviousApplication(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	prev, err := previousApplication(ctx, path, "https://c.example.com", "https://github.com/acme/app")
	require.NoError(t, err)
	assert.Nil(t, prev)

	store, err := history.Open(ctx, path)
	require.NoError(t, err)
	_, err = store.Record(ctx, history.Run{
		StartedAt:     time.Now().Add(-time.Minute),
		FinishedAt:    time.Now(),
		BaseURL:       "https://c.example.com",
		Repository:    "https://github.com/acme/app",
		State:         "Submitted",
		ApplicationID: "abcdefghijklmnopqrstuvwx",
	})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	prev, err = previousApplication(ctx, path, "https://c.example.com", "https://github.com/acme/app")
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, "abcdefghijklmnopqrstuvwx", prev.ApplicationID)

	other, err := previousApplication(ctx, path, "https://other.example.com", "https://github.com/acme/app")
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestKeygenCheck(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deploy_key")
	kp, err := deploykey.Generate("test")
	require.NoError(t, err)
	require.NoError(t, kp.Write(path, false))

	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		keygenCmd.Flags().Set("check", "")
	})

	rootCmd.SetArgs([]string{"keygen", "--check", path})
	require.NoError(t, rootCmd.Execute())

	rootCmd.SetArgs([]string{"keygen", "--check", path + ".pub"})
	err = rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid SSH private key")
}
