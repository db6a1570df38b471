package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/mchmarny/riskdash/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestMain(m *testing.M) {
	initLogging(io.Discard)
	os.Exit(m.Run())
}

func TestGetConfig(t *testing.T) {
	_, err := getConfig(context.Background())
	assert.Error(t, err)

	cfg := config.Default()
	got, err := getConfig(context.WithValue(context.Background(), appConfigKey{}, cfg))
	require.NoError(t, err)
	assert.Same(t, cfg, got)
}

func TestEncode(t *testing.T) {
	v := &featureList{Count: 2, Features: []string{"a", "b"}}

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, encode(&buf, formatJSON, v))
		var got featureList
		require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
		assert.Equal(t, *v, got)
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, encode(&buf, formatYAML, v))
		var got featureList
		require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
		assert.Equal(t, *v, got)
	})

	t.Run("unknown defaults to json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, encode(&buf, "xml", v))
		assert.True(t, json.Valid(buf.Bytes()))
	})
}

func TestApp_Features(t *testing.T) {
	dir := t.TempDir()
	err := newApp().Run(context.Background(), []string{appName, "--config", dir, "--log-level", "warn", "--no-color", "features"})
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, logLevel.Level())

	// config is created on first run
	_, err = os.Stat(filepath.Join(dir, "config.yaml"))
	assert.NoError(t, err)
}
