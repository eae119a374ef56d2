package main

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// watchLoop calls onChange once the config file has been quiet for the
// debounce period. crc may rewrite the file several times for one
// "crc config set", and editors replace it by rename.
//
// The loop ends when ctx is done or the watcher is closed. It does not return
// while onChange is running, and onChange is not called once ctx is done.
func watchLoop(ctx context.Context, watcher *fsnotify.Watcher, configFile string, debounce time.Duration, onChange func(context.Context)) {
	var (
		debounceTimer *time.Timer
		inFlight      sync.WaitGroup
	)
	defer func() {
		if debounceTimer != nil && debounceTimer.Stop() {
			// the pending call will never run
			inFlight.Done()
		}
		inFlight.Wait()
	}()

	fire := func() {
		defer inFlight.Done()
		if ctx.Err() != nil {
			return
		}
		onChange(ctx)
	}

	logrus.Debug("Preset watcher loop started")

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				logrus.Debug("File watcher events channel closed")
				return
			}

			if shouldIgnoreEvent(event, configFile) {
				continue
			}

			if debounceTimer != nil && debounceTimer.Stop() {
				inFlight.Done()
			}
			inFlight.Add(1)
			debounceTimer = time.AfterFunc(debounce, fire)

		case err, ok := <-watcher.Errors:
			if !ok {
				logrus.Debug("File watcher errors channel closed")
				return
			}
			logrus.Warnf("File watcher error: %v", err)
		}
	}
}

// shouldIgnoreEvent returns true if the event cannot change the preset:
// events on other files in the CRC home and permission-only changes.
func shouldIgnoreEvent(event fsnotify.Event, configFile string) bool {
	if filepath.Clean(event.Name) != filepath.Clean(configFile) {
		return true
	}
	return event.Op == fsnotify.Chmod
}
