// Package storage 提供源文件读取辅助函数
// 存储任务的源可以是本地路径、file://或http(s)://位置
package storage

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// openOrigin 打开源文件位置并返回读取器
// 支持本地路径、file://和http(s)://三种形式，调用方负责关闭
func openOrigin(originURL string) (io.ReadCloser, error) {
	switch {
	case strings.HasPrefix(originURL, "http://"), strings.HasPrefix(originURL, "https://"):
		resp, err := http.Get(originURL)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch origin %s: %w", originURL, err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("failed to fetch origin %s, status: %s", originURL, resp.Status)
		}
		return resp.Body, nil
	case strings.HasPrefix(originURL, "file://"):
		return os.Open(strings.TrimPrefix(originURL, "file://"))
	default:
		return os.Open(originURL)
	}
}
