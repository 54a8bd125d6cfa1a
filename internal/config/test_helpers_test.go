package config

import (
	"os"
	"path/filepath"
	"testing"
)

// fixture 返回 testdata 下的 cloudio 配置样例路径。
func fixture(name string) string {
	return filepath.Join("testdata", name)
}

// writeConfigTOML 把 content 写入临时目录下的 cloudio.toml 并返回路径。
func writeConfigTOML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cloudio.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("写入临时配置失败: %v", err)
	}
	return path
}
