package configs

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultReloadDelay = 300 * time.Millisecond

// Watcher 监听配置文件变化，并在文件稳定后重新加载。
type Watcher struct {
	file     string
	delay    time.Duration
	onChange func(*Config)
	onError  func(error)

	watcher *fsnotify.Watcher
	stop    chan struct{}
	once    sync.Once
}

// NewWatcher 创建配置文件监听器。onError 可以为 nil。
func NewWatcher(file string, onChange func(*Config), onError func(error)) (*Watcher, error) {
	abs, err := filepath.Abs(file)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if onError == nil {
		onError = func(error) {}
	}
	return &Watcher{
		file:     abs,
		delay:    defaultReloadDelay,
		onChange: onChange,
		onError:  onError,
		watcher:  fw,
		stop:     make(chan struct{}),
	}, nil
}

// Start 开始监听。监听的是文件所在目录，编辑器“写临时文件再改名”的保存方式也能被捕获。
func (w *Watcher) Start() error {
	if err := w.watcher.Add(filepath.Dir(w.file)); err != nil {
		return err
	}
	go w.run()
	return nil
}

// Close 停止监听。
func (w *Watcher) Close() {
	w.once.Do(func() {
		close(w.stop)
		w.watcher.Close()
	})
}

func (w *Watcher) run() {
	var (
		timer  *time.Timer
		reload <-chan time.Time
	)
	for {
		select {
		case <-w.stop:
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.file {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			// 连续写入只触发一次重新加载
			if timer == nil {
				timer = time.NewTimer(w.delay)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.delay)
			}
			reload = timer.C
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.onError(err)
		case <-reload:
			reload = nil
			w.load()
		}
	}
}

func (w *Watcher) load() {
	cfg, err := NewConfigWithFile(w.file)
	if err != nil {
		w.onError(err)
		return
	}
	if err := cfg.Verify(); err != nil {
		w.onError(err)
		return
	}
	w.onChange(cfg)
}
