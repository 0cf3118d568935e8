package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFlagsOverride(t *testing.T) {
	dir := t.TempDir()
	cmd := NewServeCommand()
	require.NoError(t, cmd.Flags().Set("data-dir", dir))
	require.NoError(t, cmd.Flags().Set("listen", "127.0.0.1:9999"))
	require.NoError(t, cmd.Flags().Set("csrf", "true"))

	config, v, err := loadConfig(cmd.Flags())
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, "127.0.0.1:9999", config.ListenAddr())
	assert.True(t, config.CSRF())
	assert.Equal(t, filepath.Join(dir, "forkchat.db"), config.DBPath())
	// Unset flags fall back to the defaults.
	assert.Equal(t, ":2112", config.MetricsAddr())
	assert.Equal(t, "echo", config.AssistantProvider())
}

func TestOpenDatabase(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	cmd := NewVacuumCommand()
	require.NoError(t, cmd.Flags().Set("data-dir", dir))

	config, _, err := loadConfig(cmd.Flags())
	require.NoError(t, err)

	db, err := openDatabase(context.Background(), config)
	require.NoError(t, err)
	defer db.Close()

	_, err = os.Stat(filepath.Join(dir, "forkchat.db"))
	assert.NoError(t, err)
	assert.NoError(t, db.Ping())
}

func TestVacuumCommand(t *testing.T) {
	dir := t.TempDir()

	cmd := NewVacuumCommand()
	cmd.SetArgs([]string{"--data-dir", dir, "--pages", "10"})
	assert.NoError(t, cmd.Execute())

	cmd = NewVacuumCommand()
	cmd.SetArgs([]string{"--data-dir", dir, "--pages", "0"})
	assert.Error(t, cmd.Execute())
}

func TestReconcileCommand(t *testing.T) {
	cmd := NewReconcileCommand()
	cmd.SetArgs([]string{"--data-dir", t.TempDir()})
	assert.NoError(t, cmd.Execute())
}

func TestVersionCommand(t *testing.T) {
	cmd := NewVersionCommand()
	cmd.SetArgs([]string{"-o", "json"})
	assert.NoError(t, cmd.Execute())

	cmd = NewVersionCommand()
	cmd.SetArgs([]string{"-o", "xml"})
	assert.Error(t, cmd.Execute())

	assert.NotEmpty(t, getVersion().GitCommit)
}
