package ml

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher invalidates the trainer's in-memory model whenever the cached
// artifact files change on disk, so an out-of-band retrain (for example
// via the training CLI) is picked up without a restart.
type Watcher struct {
	fs      *fsnotify.Watcher
	trainer *Trainer
	logger  *zap.Logger
	done    chan struct{}
}

// NewWatcher starts watching the cache directory. The directory must
// exist before the watcher is created.
func NewWatcher(dir string, trainer *Trainer, logger *zap.Logger) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fs.Add(dir); err != nil {
		fs.Close()
		return nil, err
	}
	w := &Watcher{fs: fs, trainer: trainer, logger: logger, done: make(chan struct{})}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			name := filepath.Base(event.Name)
			if name != modelFileName && name != metadataFileName {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Info("model artifact changed on disk, invalidating",
				zap.String("file", name),
				zap.String("op", event.Op.String()))
			w.trainer.Invalidate()
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("model watcher error", zap.Error(err))
		}
	}
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	err := w.fs.Close()
	<-w.done
	return err
}
