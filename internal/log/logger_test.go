package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/netcap/internal/config"
)

func patternConfig(level string) config.LogConfig {
	return config.LogConfig{
		Level:   level,
		Format:  "pattern",
		Pattern: "[%level] %field: %msg\n",
		Time:    "2006-01-02",
	}
}

func TestPatternFormatter(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(patternConfig("info"), &buf)
	require.NoError(t, err)

	l.WithFields(map[string]interface{}{"b": 2, "a": "x"}).Infof("hello %s", "world")
	assert.Equal(t, "[info] a=x,b=2: hello world\n", buf.String())
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(patternConfig("warn"), &buf)
	require.NoError(t, err)

	l.Info("dropped")
	l.Debug("dropped")
	l.Warn("kept")
	assert.Equal(t, "[warning] : kept\n", buf.String())
	assert.False(t, l.IsDebugEnabled())
	assert.False(t, l.IsTraceEnabled())
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(config.LogConfig{Level: "debug", Format: "json"}, &buf)
	require.NoError(t, err)

	l.WithError(errors.New("boom")).WithField("component", "pipeline").Debug("failed")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "failed", entry["msg"])
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, "pipeline", entry["component"])
	assert.Equal(t, "debug", entry["level"])
}

func TestPrefixedFormat(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(config.LogConfig{Level: "info", Format: "prefixed", Time: "15:04:05"}, &buf)
	require.NoError(t, err)

	l.Info("started")
	assert.Contains(t, buf.String(), "started")
}

func TestNewInvalid(t *testing.T) {
	_, err := New(config.LogConfig{Level: "loud", Format: "json"}, &bytes.Buffer{})
	assert.Error(t, err)

	_, err = New(config.LogConfig{Level: "info", Format: "xml"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestInitWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netcap.log")
	cfg := patternConfig("info")
	cfg.File = config.FileOutputConfig{
		Enabled:  true,
		Path:     path,
		Rotation: config.RotationConfig{MaxSizeMB: 1, MaxBackups: 1},
	}

	require.NoError(t, Init(cfg))
	t.Cleanup(func() { _ = Close() })

	GetLogger().Info("to file")
	require.NoError(t, Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
}

func TestGetLoggerBeforeInit(t *testing.T) {
	assert.NotNil(t, GetLogger())
}

func TestMultiWriter(t *testing.T) {
	var a, b bytes.Buffer
	w := NewMultiWriter().Add(&a).Add(&b)

	n, err := w.Write([]byte("x"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "x", a.String())
	assert.Equal(t, "x", b.String())
	assert.NoError(t, w.Close())
}
