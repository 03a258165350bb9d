package logging_test

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/goliatone/go-grants/logging"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Levels(t *testing.T) {
	l, err := logging.New(logging.Config{Level: "debug"})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())

	l, err = logging.New(logging.Config{})
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, l.GetLevel())

	_, err = logging.New(logging.Config{Level: "chatty"})
	assert.Error(t, err)

	_, err = logging.New(logging.Config{Format: "xml"})
	assert.Error(t, err)
}

func TestNew_RotatingFile(t *testing.T) {
	cfg := logging.DefaultConfig()
	cfg.File = filepath.Join(t.TempDir(), "grants.log")

	l, err := logging.New(cfg)
	require.NoError(t, err)
	assert.NotNil(t, l.Out)
}

func TestAdapter(t *testing.T) {
	var buf bytes.Buffer

	l, err := logging.New(logging.Config{Level: "info", Format: "json"})
	require.NoError(t, err)
	l.SetOutput(&buf)

	logger := logging.NewAdapter(l, "device").With("client_id", "tv")
	logger.Debug("hidden %d", 1)
	logger.Info("device %s approved", "BCDF-GHJK")
	logger.Warn("slow poll")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"device BCDF-GHJK approved"`)
	assert.Contains(t, out, `"component":"device"`)
	assert.Contains(t, out, `"client_id":"tv"`)
	assert.Contains(t, out, `"level":"warning"`)
}
