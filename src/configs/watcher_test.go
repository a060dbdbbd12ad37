package configs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_Reload(t *testing.T) {
	file := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(file, []byte("my_nickname: 旧\n"), 0644))

	changed := make(chan *Config, 4)
	w, err := NewWatcher(file, func(c *Config) { changed <- c }, nil)
	require.NoError(t, err)
	w.delay = 50 * time.Millisecond
	require.NoError(t, w.Start())
	defer w.Close()

	require.NoError(t, os.WriteFile(file, []byte("my_nickname: 新\n"), 0644))

	select {
	case c := <-changed:
		assert.Equal(t, "新", c.MyNickname)
	case <-time.After(5 * time.Second):
		t.Fatal("配置没有重新加载")
	}
}

func TestWatcher_InvalidConfig(t *testing.T) {
	file := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(file, []byte("interval: 500\n"), 0644))

	errs := make(chan error, 4)
	w, err := NewWatcher(file, func(*Config) { t.Error("无效配置不应被应用") }, func(err error) { errs <- err })
	require.NoError(t, err)
	w.delay = 50 * time.Millisecond
	require.NoError(t, w.Start())
	defer w.Close()

	require.NoError(t, os.WriteFile(file, []byte("interval: 0\n"), 0644))

	select {
	case err := <-errs:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("没有报告错误")
	}
}
