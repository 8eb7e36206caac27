package config

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher 监听配置文件变更并热加载。阈值是数据不是代码，改新闻窗口、
// 预警带这类参数不需要重启守护进程。
type Watcher struct {
	Path     string
	Cooldown time.Duration // 连续写入的去抖窗口
}

// Start begins watching; callback receives the latest valid config on change.
// Invalid edits are ignored, the previous config stays in effect.
func (w Watcher) Start(ctx context.Context, onUpdate func(GuardConfig)) error {
	if w.Cooldown <= 0 {
		w.Cooldown = 2 * time.Second
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(w.Path); err != nil {
		fw.Close()
		return fmt.Errorf("watch config file: %w", err)
	}

	go func() {
		defer fw.Close()
		var lastReload time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if time.Since(lastReload) < w.Cooldown {
					continue
				}
				lastReload = time.Now()
				if cfg, err := LoadWithEnvOverrides(w.Path); err == nil && onUpdate != nil {
					onUpdate(cfg)
				}
			case _, ok := <-fw.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return nil
}
