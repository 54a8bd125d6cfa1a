package main

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// fixtureDir 是 CLI 测试共用的 TOML 样例目录，相对于模块根目录。
var fixtureDir = filepath.Join("internal", "config", "testdata")

// moduleRoot 沿源文件所在目录向上查找 go.mod。
func moduleRoot(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("无法定位测试源文件")
	}
	for dir := filepath.Dir(file); ; dir = filepath.Dir(dir) {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		if parent := filepath.Dir(dir); parent == dir {
			t.Fatal("无法定位模块根目录")
		}
	}
}

// configFixture 返回 cloudio 配置样例的绝对路径；样例不必存在（missing.toml 用于失败路径）。
func configFixture(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(moduleRoot(t), fixtureDir, name)
}
