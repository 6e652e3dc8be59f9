package tasks

import (
	"log/slog"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"

	"traj2gps/internal/fsutil"
)

// FileSystemEvent is an image that appeared in a watched directory and has
// stopped changing.
type FileSystemEvent struct {
	Path      string    `json:"path"`
	Operation string    `json:"operation"` // created, modified
	Time      time.Time `json:"time"`
	Size      int64     `json:"size"`
}

// FileSystemWatcher reports settled image files in the watched directories.
type FileSystemWatcher struct {
	watcher   *fsnotify.Watcher
	Events    chan FileSystemEvent
	watchDirs []string
	settle    time.Duration
	logger    *slog.Logger
	done      chan struct{}
}

// NewFileSystemWatcher creates a watcher. A file is reported once no event
// has touched it for settle.
func NewFileSystemWatcher(watchPaths []string, settle time.Duration, logger *slog.Logger) (*FileSystemWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if settle <= 0 {
		settle = time.Second
	}
	return &FileSystemWatcher{
		watcher:   watcher,
		Events:    make(chan FileSystemEvent, 100),
		watchDirs: watchPaths,
		settle:    settle,
		logger:    logger,
		done:      make(chan struct{}),
	}, nil
}

// Start begins monitoring the configured directories.
func (fsw *FileSystemWatcher) Start() error {
	for _, dir := range fsw.watchDirs {
		if err := fsw.watcher.Add(dir); err != nil {
			return err
		}
		fsw.logger.Info("watching directory", "dir", dir)
	}
	go fsw.processEvents()
	return nil
}

// Stop ends monitoring. Events is closed once the event loop exits.
func (fsw *FileSystemWatcher) Stop() error {
	close(fsw.done)
	return fsw.watcher.Close()
}

type pendingFile struct {
	op   string
	last time.Time
}

func (fsw *FileSystemWatcher) processEvents() {
	defer close(fsw.Events)

	pending := map[string]*pendingFile{}
	ticker := time.NewTicker(fsw.settle / 2)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-fsw.watcher.Events:
			if !ok {
				return
			}
			if !fsutil.IsImageFile(event.Name) {
				continue
			}
			switch {
			case event.Has(fsnotify.Create):
				pending[event.Name] = &pendingFile{op: "created", last: time.Now()}
			case event.Has(fsnotify.Write):
				if p, ok := pending[event.Name]; ok {
					p.last = time.Now()
				} else {
					pending[event.Name] = &pendingFile{op: "modified", last: time.Now()}
				}
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				delete(pending, event.Name)
			}

		case now := <-ticker.C:
			for path, p := range pending {
				if now.Sub(p.last) < fsw.settle {
					continue
				}
				delete(pending, path)
				info, err := os.Stat(path)
				if err != nil || info.IsDir() {
					continue
				}
				ev := FileSystemEvent{Path: path, Operation: p.op, Time: p.last, Size: info.Size()}
				select {
				case fsw.Events <- ev:
				default:
					fsw.logger.Warn("event buffer full, dropping event", "path", path)
				}
			}

		case err, ok := <-fsw.watcher.Errors:
			if !ok {
				return
			}
			fsw.logger.Error("filesystem watcher error", "error", err)

		case <-fsw.done:
			return
		}
	}
}
