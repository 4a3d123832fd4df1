package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch watches configPath for writes and re-invokes Load, calling onChange
// with the freshly parsed, validated Config. Invalid edits are logged via
// onError and left in place — the last-good Config keeps running. The
// returned stop function closes the watcher; it is safe to call once.
func Watch(configPath string, onChange func(Config), onError func(error)) (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create watcher: %w", err)
	}

	dir := filepath.Dir(configPath)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("config: watch %s: %w", dir, err)
	}

	done := make(chan struct{})
	go func() {
		// Editors commonly rename-over-write, which fires multiple rapid
		// events; debounce so one edit doesn't trigger several reloads.
		var debounce *time.Timer
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(configPath) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(100*time.Millisecond, func() {
					cfg, loadErr := Load(configPath)
					if loadErr != nil {
						if onError != nil {
							onError(loadErr)
						}
						return
					}
					onChange(cfg)
				})
			case watchErr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if onError != nil {
					onError(watchErr)
				}
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}, nil
}
