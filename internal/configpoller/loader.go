package configpoller

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/unicitynetwork/aggregator-subscription-proxy/internal/router"
)

// LoadFromURI reads a shard configuration from a file://, http://, or
// https:// URI, per SPEC_FULL.md/spec.md §6's SHARD_CONFIG_URI startup
// path. Any other scheme is rejected.
func LoadFromURI(ctx context.Context, uri string) (router.ShardConfig, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return router.ShardConfig{}, fmt.Errorf("configpoller: parse SHARD_CONFIG_URI: %w", err)
	}

	var raw []byte
	switch u.Scheme {
	case "file":
		raw, err = os.ReadFile(u.Path)
		if err != nil {
			return router.ShardConfig{}, fmt.Errorf("configpoller: read shard config file: %w", err)
		}
	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
		if err != nil {
			return router.ShardConfig{}, fmt.Errorf("configpoller: build shard config request: %w", err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return router.ShardConfig{}, fmt.Errorf("configpoller: fetch shard config: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return router.ShardConfig{}, fmt.Errorf("configpoller: shard config fetch returned %d", resp.StatusCode)
		}
		raw, err = io.ReadAll(resp.Body)
		if err != nil {
			return router.ShardConfig{}, fmt.Errorf("configpoller: read shard config response: %w", err)
		}
	default:
		return router.ShardConfig{}, fmt.Errorf("configpoller: unsupported SHARD_CONFIG_URI scheme %q", u.Scheme)
	}

	var cfg router.ShardConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return router.ShardConfig{}, fmt.Errorf("configpoller: parse shard config JSON: %w", err)
	}
	return cfg, nil
}

// WatchFile watches a file:// SHARD_CONFIG_URI for editor-save events
// between polls, the same spirit as viper's own fsnotify-backed config
// watch, adapted here for the shard-config loader instead of delegated to
// viper. onChange is invoked (with debouncing against duplicate WRITE
// events) whenever the file is rewritten; it should reload and republish.
func WatchFile(ctx context.Context, path string, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("configpoller: create file watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return fmt.Errorf("configpoller: watch shard config file: %w", err)
	}

	go func() {
		defer watcher.Close()
		var lastEvent time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
					continue
				}
				if time.Since(lastEvent) < 200*time.Millisecond {
					continue
				}
				lastEvent = time.Now()
				onChange()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logrus.WithError(err).Warn("shard config file watcher error")
			}
		}
	}()
	return nil
}

// IsFileURI reports whether uri uses the file:// scheme.
func IsFileURI(uri string) bool {
	return strings.HasPrefix(uri, "file://")
}

// FilePath strips the file:// scheme from uri.
func FilePath(uri string) string {
	return strings.TrimPrefix(uri, "file://")
}
