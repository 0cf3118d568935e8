package env

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const configDebounce = 100 * time.Millisecond

// ConfigWatcher reloads the runtime-adjustable parts of an EnvConfig whenever its
// config file changes on disk.
//
// The parent directory is watched rather than the file itself, so that editors
// which save by renaming a temporary file over the original are still noticed.
type ConfigWatcher struct {
	config   *EnvConfig
	v        *viper.Viper
	path     string
	watcher  *fsnotify.Watcher
	onReload func(*EnvConfig)

	debounceMutex sync.Mutex
	debounceTimer *time.Timer
	reloadMutex   sync.Mutex // viper is not safe for concurrent reads of the file
	done          chan struct{}
}

// NewConfigWatcher creates a watcher for the file config was loaded from.
// onReload may be nil.
func NewConfigWatcher(config *EnvConfig, v *viper.Viper, onReload func(*EnvConfig)) (*ConfigWatcher, error) {
	if config.ConfigFile() == "" {
		return nil, fmt.Errorf("no config file to watch")
	}
	path, err := filepath.Abs(config.ConfigFile())
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config file path: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &ConfigWatcher{
		config:   config,
		v:        v,
		path:     path,
		watcher:  watcher,
		onReload: onReload,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching in the background.
func (cw *ConfigWatcher) Start() error {
	if err := cw.watcher.Add(filepath.Dir(cw.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(cw.path), err)
	}
	go cw.eventLoop()
	log.Printf("ConfigWatcher: Started watching %s", cw.path)
	return nil
}

// Stop ends watching and waits for the event loop to exit.
func (cw *ConfigWatcher) Stop() error {
	cw.debounceMutex.Lock()
	if cw.debounceTimer != nil {
		cw.debounceTimer.Stop()
		cw.debounceTimer = nil
	}
	cw.debounceMutex.Unlock()

	err := cw.watcher.Close()

	select {
	case <-cw.done:
	case <-time.After(time.Second):
		log.Printf("ConfigWatcher: Warning - eventLoop did not exit after 1 second")
	}
	return err
}

func (cw *ConfigWatcher) eventLoop() {
	defer close(cw.done)

	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != cw.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			cw.debounceMutex.Lock()
			if cw.debounceTimer != nil {
				cw.debounceTimer.Stop()
			}
			cw.debounceTimer = time.AfterFunc(configDebounce, cw.reload)
			cw.debounceMutex.Unlock()

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("ConfigWatcher: error watching config file")
		}
	}
}

func (cw *ConfigWatcher) reload() {
	cw.reloadMutex.Lock()
	defer cw.reloadMutex.Unlock()

	if err := cw.v.ReadInConfig(); err != nil {
		log.WithError(err).Warnf("ConfigWatcher: failed to re-read %s, keeping previous settings", cw.path)
		return
	}
	if err := cw.config.reload(cw.v); err != nil {
		log.WithError(err).Warnf("ConfigWatcher: rejected new settings from %s", cw.path)
		return
	}
	log.WithFields(log.Fields{
		"model":   cw.config.AssistantModel(),
		"timeout": cw.config.AssistantTimeout(),
		"retries": cw.config.EditRetries(),
	}).Info("ConfigWatcher: reloaded configuration")
	if cw.onReload != nil {
		cw.onReload(cw.config)
	}
}
