package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/ZephyrDeng/gbd-analyzer-mcp/logging"
)

// getDatasetAsFile 获取输入数据文件。
// - 如果输入不包含 "://", 则视为本地文件路径（相对或绝对）。
// - 如果是 file:// URI，直接使用其路径。
// - 如果是 http:// 或 https:// URI，下载到临时文件并返回其路径。
// 返回最终的文件路径、一个用于清理临时文件的函数以及错误。
func getDatasetAsFile(ctx context.Context, uriStr string, logger *slog.Logger) (filePath string, cleanup func(), err error) {
	cleanup = func() {} // 默认清理函数为空操作

	if !strings.Contains(uriStr, "://") {
		absPath, err := filepath.Abs(uriStr)
		if err != nil {
			return "", nil, fmt.Errorf("failed to get absolute path for '%s': %w", uriStr, err)
		}
		logger.Debug("using local dataset", "path", absPath)
		return absPath, cleanup, nil
	}

	parsedURI, err := url.Parse(uriStr)
	if err != nil {
		return "", nil, fmt.Errorf("invalid dataset URI '%s': %w", uriStr, err)
	}

	switch parsedURI.Scheme {
	case "file":
		filePath = parsedURI.Path
		if filePath == "" {
			return "", nil, fmt.Errorf("invalid file path derived from URI '%s'", uriStr)
		}
		logger.Debug("using local dataset", "path", filePath)
		return filePath, cleanup, nil

	case "http", "https":
		return downloadDataset(ctx, parsedURI, logger)

	default:
		return "", nil, fmt.Errorf("unsupported URI scheme '%s', only 'file://', 'http://', 'https://', or a plain local path are supported", parsedURI.Scheme)
	}
}

// downloadDataset 下载远程文件到临时文件，临时文件在返回的 cleanup 中删除，
// 并登记到 tempFiles 以便收到信号时清理。
func downloadDataset(ctx context.Context, u *url.URL, logger *slog.Logger) (string, func(), error) {
	logger.Info("downloading dataset", "url", u.String())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", nil, fmt.Errorf("failed to build request for '%s': %w", u, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("failed to download dataset from '%s': %w", u, err)
	}
	defer logging.SafeCloseWithLogging(resp.Body, logger, "download_dataset")

	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("failed to download dataset from '%s': received status code %d", u, resp.StatusCode)
	}

	// 保留原扩展名 (.csv / .xlsx)，便于识别
	tempFile, err := os.CreateTemp("", "gbd-*"+path.Ext(u.Path))
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temporary file for download: %w", err)
	}
	filePath := tempFile.Name()
	tempFiles.track(filePath)

	cleanup := func() {
		tempFiles.remove(filePath, logger)
	}

	_, err = io.Copy(tempFile, resp.Body)
	closeErr := tempFile.Close()
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to write downloaded content to temporary file '%s': %w", filePath, err)
	}
	if closeErr != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to close temporary file '%s': %w", filePath, closeErr)
	}

	logger.Debug("downloaded dataset", "url", u.String(), "path", filePath)
	return filePath, cleanup, nil
}
