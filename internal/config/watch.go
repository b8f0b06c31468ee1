package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch 监听配置文件变化，每次写入/重建后重新加载并回调 onChange。
// 监听的是所在目录，编辑器"写临时文件再改名"的保存方式也能被捕获。
// 解析失败时保留旧配置，只记录日志。
func Watch(ctx context.Context, logger *zap.Logger, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("创建文件监听器失败: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return fmt.Errorf("解析配置路径失败: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return fmt.Errorf("监听配置目录失败: %w", err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != abs {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				cfg, err := LoadFromFile(abs)
				if err != nil {
					logger.Sugar().Warnf("重新加载配置失败，保留旧配置: %v", err)
					continue
				}
				logger.Sugar().Infof("配置文件已重新加载: %s", abs)
				onChange(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Sugar().Errorf("配置文件监听出错: %v", err)
			}
		}
	}()

	return nil
}
