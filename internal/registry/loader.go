package registry

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"cheeznad/internal/config"
	engineerrors "cheeznad/internal/errors"
	"cheeznad/internal/retry"

	"github.com/sirupsen/logrus"
)

// Loader 启动时下载协议 CSV 并构建注册表
type Loader struct {
	url     string
	file    string
	prefix  string
	client  *http.Client
	retrier *retry.Retrier
	logger  *logrus.Logger
}

// NewLoader 创建加载器
func NewLoader(cfg *config.RegistryConfig, addressPrefix string, logger *logrus.Logger) *Loader {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Loader{
		url:     cfg.URL,
		file:    cfg.File,
		prefix:  addressPrefix,
		client:  &http.Client{Timeout: timeout},
		retrier: retry.NewRetrier(retry.NetworkRetryConfig, logger),
		logger:  logger,
	}
}

// Load 获取并解析注册表；获取失败返回 ErrRegistryFetch，单行格式错误只计数
func (l *Loader) Load(ctx context.Context) (*Registry, error) {
	source := l.url
	if l.file != "" {
		source = l.file
	}
	l.logger.Infof("正在加载协议注册表: %s", source)

	data, err := l.fetch(ctx)
	if err != nil {
		return nil, engineerrors.ErrRegistryFetch.Wrap(err).WithComponent("registry")
	}

	reg, err := Parse(bytes.NewReader(data), l.prefix)
	if err != nil {
		return nil, engineerrors.ErrRegistryFetch.Wrap(err).WithComponent("registry")
	}

	stats := reg.Stats()
	l.logger.WithFields(logrus.Fields{
		"loaded":     stats.Loaded,
		"skipped":    stats.Skipped,
		"malformed":  stats.Malformed,
		"bad_prefix": stats.BadPrefix,
		"duplicates": stats.Duplicates,
	}).Infof("已加载 %d 个地址，跳过 %d 个未映射分类", stats.Loaded, stats.Skipped)
	l.logger.Infof("区域分布: %s", reg.Breakdown())

	return reg, nil
}

func (l *Loader) fetch(ctx context.Context) ([]byte, error) {
	if l.file != "" {
		data, err := os.ReadFile(l.file)
		if err != nil {
			return nil, fmt.Errorf("读取注册表文件失败: %w", err)
		}
		return data, nil
	}

	return retry.Do(ctx, l.retrier, "fetch_registry", func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
		if err != nil {
			return nil, retry.NewRetryableError(err, false)
		}

		resp, err := l.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("请求注册表失败: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("注册表返回状态码 %d", resp.StatusCode)
			return nil, retry.NewRetryableError(err, resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("读取注册表响应失败: %w", err)
		}
		return body, nil
	})
}
