// Package checkpoint - Verzeichnis-Ueberwachung
//
// Dieses Modul enthaelt Watch: liefert jeden neuen neuesten Checkpoint eines
// Verzeichnisses, bis der Kontext endet.
package checkpoint

import (
	"context"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watch yields the latest checkpoint of dir, then every newer one as it
// appears. The sequence ends without error when ctx is done.
func Watch(ctx context.Context, dir string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			yield("", err)
			return
		}

		w, err := fsnotify.NewWatcher()
		if err != nil {
			yield("", err)
			return
		}
		defer w.Close()

		if err := w.Add(dir); err != nil {
			yield("", err)
			return
		}

		var last string
		emit := func() bool {
			path, ok := Latest(dir)
			if !ok || path == last {
				return true
			}
			last = path
			return yield(path, nil)
		}

		if !emit() {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
					continue
				}

				name := filepath.Base(event.Name)
				if name != IndexFile && !strings.HasSuffix(name, ext) {
					continue
				}

				slog.Debug("checkpoint directory changed", "file", event.Name, "op", event.Op.String())
				if !emit() {
					return
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				yield("", err)
				return
			}
		}
	}
}
