package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// tempRegistry 跟踪下载产生的临时文件，MCP 处理器并发调用时共享
type tempRegistry struct {
	mu    sync.Mutex
	files map[string]struct{}
}

var tempFiles = &tempRegistry{files: make(map[string]struct{})}

func (r *tempRegistry) track(path string) {
	r.mu.Lock()
	r.files[path] = struct{}{}
	r.mu.Unlock()
}

// remove 删除单个临时文件并取消登记
func (r *tempRegistry) remove(path string, logger *slog.Logger) {
	r.mu.Lock()
	delete(r.files, path)
	r.mu.Unlock()

	logger.Debug("cleaning up temporary file", "path", path)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) { // 忽略文件不存在的错误
		logger.Warn("failed to remove temporary file", "path", path, "error", err)
	}
}

// removeAll 删除所有仍登记的临时文件，返回清理的登记数量
func (r *tempRegistry) removeAll(logger *slog.Logger) int {
	r.mu.Lock()
	paths := make([]string, 0, len(r.files))
	for p := range r.files {
		paths = append(paths, p)
	}
	r.files = make(map[string]struct{}) // 清空 map
	r.mu.Unlock()

	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			logger.Warn("failed to remove temporary file", "path", p, "error", err)
		}
	}
	return len(paths)
}

func (r *tempRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.files)
}

// setupSignalHandler 在收到 SIGINT/SIGTERM 时取消 ctx 并清理临时下载文件。
// 返回的 stop 用于正常退出时解除信号监听。
func setupSignalHandler(parent context.Context, logger *slog.Logger) (ctx context.Context, stop func()) {
	ctx, cancel := context.WithCancel(parent)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case sig := <-sigs:
			logger.Info("received signal, cleaning up", "signal", sig.String())
			cancel()
			n := tempFiles.removeAll(logger)
			logger.Info("cleanup finished", "temp_files", n)
		case <-done:
		}
	}()

	var once sync.Once
	return ctx, func() {
		once.Do(func() {
			signal.Stop(sigs)
			close(done)
			cancel()
		})
	}
}
