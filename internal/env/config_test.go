package env

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	v := NewViper("")
	v.Set(KeyDataDir, dir)

	config, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "forkchat.db"), config.DBPath())
	assert.Equal(t, 60*time.Second, config.AssistantTimeout())
	assert.Equal(t, 3, config.EditRetries())
	assert.Equal(t, "echo", config.AssistantProvider())
	assert.Equal(t, ":8080", config.ListenAddr())
	assert.False(t, config.UseMemoryDB())
}

func TestLoadFromFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "forkchat.yaml")
	writeConfig(t, path, "assistant:\n  timeout: 5s\n  model: small\nedit:\n  retries: 7\n")
	t.Setenv("FORKCHAT_LISTEN", ":9999")

	config, err := Load(NewViper(path))
	require.NoError(t, err)

	assert.Equal(t, path, config.ConfigFile())
	assert.Equal(t, 5*time.Second, config.AssistantTimeout())
	assert.Equal(t, "small", config.AssistantModel())
	assert.Equal(t, 7, config.EditRetries())
	assert.Equal(t, ":9999", config.ListenAddr())
}

func TestLoadRejectsBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forkchat.yaml")
	writeConfig(t, path, "assistant:\n  timeout: 0s\n")

	_, err := Load(NewViper(path))
	require.Error(t, err)
	assert.Contains(t, err.Error(), KeyAssistantTimeout)

	for _, interval := range []string{"0s", "-1m"} {
		writeConfig(t, path, "housekeeping:\n  interval: "+interval+"\n")
		_, err = Load(NewViper(path))
		require.Error(t, err, interval)
		assert.Contains(t, err.Error(), KeyHousekeepingInterval)
	}

	writeConfig(t, path, "")
	t.Setenv("FORKCHAT_HOUSEKEEPING_INTERVAL", "0")
	_, err = Load(NewViper(path))
	require.Error(t, err)
	assert.Contains(t, err.Error(), KeyHousekeepingInterval)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(NewViper(filepath.Join(t.TempDir(), "absent.yaml")))
	require.Error(t, err)
}

func TestConfigWatcherReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forkchat.yaml")
	writeConfig(t, path, "assistant:\n  timeout: 5s\n")

	v := NewViper(path)
	config, err := Load(v)
	require.NoError(t, err)

	reloaded := make(chan struct{}, 1)
	cw, err := NewConfigWatcher(config, v, func(*EnvConfig) {
		select {
		case reloaded <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)
	require.NoError(t, cw.Start())
	t.Cleanup(func() { cw.Stop() })

	writeConfig(t, path, "assistant:\n  timeout: 9s\n  model: bigger\n")

	select {
	case <-reloaded:
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}
	assert.Equal(t, 9*time.Second, config.AssistantTimeout())
	assert.Equal(t, "bigger", config.AssistantModel())
}

func TestConfigWatcherKeepsSettingsOnInvalidReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forkchat.yaml")
	writeConfig(t, path, "edit:\n  retries: 4\n")

	v := NewViper(path)
	config, err := Load(v)
	require.NoError(t, err)

	cw, err := NewConfigWatcher(config, v, nil)
	require.NoError(t, err)

	writeConfig(t, path, "edit:\n  retries: -1\n")
	cw.reload()

	assert.Equal(t, 4, config.EditRetries())
}

func TestConfigWatcherOverlappingReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forkchat.yaml")
	writeConfig(t, path, "edit:\n  retries: 4\n")

	v := NewViper(path)
	config, err := Load(v)
	require.NoError(t, err)

	cw, err := NewConfigWatcher(config, v, nil)
	require.NoError(t, err)

	writeConfig(t, path, "edit:\n  retries: 7\n")
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cw.reload()
		}()
	}
	wg.Wait()

	assert.Equal(t, 7, config.EditRetries())
}

func TestNewConfigWatcherRequiresFile(t *testing.T) {
	_, err := NewConfigWatcher(NewTestEnvConfig(), NewViper(""), nil)
	assert.Error(t, err)
}

func TestEnvConfigContext(t *testing.T) {
	_, err := EnvConfigFromContext(context.Background())
	assert.Error(t, err)

	config := NewTestEnvConfig()
	got, err := EnvConfigFromContext(ContextWithEnvConfig(context.Background(), config))
	require.NoError(t, err)
	assert.Same(t, config, got)
}
