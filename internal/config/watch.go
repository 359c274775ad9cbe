package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sethvargo/go-envconfig"
	"github.com/spf13/afero"
	"k8s.io/klog/v2"
)

// Watch reloads the config file at path whenever it is written, created or
// renamed into place, and passes the result to onChange. Invalid files are
// logged and skipped. Watch blocks until ctx is done.
//
// The parent directory is watched rather than the file so editors that
// replace the file atomically are still noticed.
func Watch(ctx context.Context, path string, onChange func(Config)) error {
	if path == "" {
		<-ctx.Done()
		return ctx.Err()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	klog.V(1).Infof("watching %s for config changes", path)

	fs := afero.NewOsFs()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case e, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(e.Name) != filepath.Clean(path) {
				continue
			}
			if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) && !e.Has(fsnotify.Rename) {
				continue
			}
			cfg, err := Load(ctx, fs, path, envconfig.OsLookuper())
			if err != nil {
				klog.Errorf("config reload: %v", err)
				continue
			}
			klog.Infof("config reloaded from %s", path)
			onChange(cfg)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			klog.Errorf("config watcher: %v", err)
		}
	}
}
