package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	logger := New()
	assert.NotNil(t, logger)
	assert.NotNil(t, logger.info)
	assert.NotNil(t, logger.error)
	assert.NotNil(t, logger.warn)
}

func TestLogger_MultipleCalls(t *testing.T) {
	logger := New()
	assert.NotNil(t, logger)

	// Test multiple calls don't panic
	logger.Info("Info 1")
	logger.Error("Error 1")
	logger.Warn("Warn 1")
	logger.Debug("Debug 1")
}

func TestNewWithOptions_Level(t *testing.T) {
	logger := NewWithOptions("debug", "json")
	assert.Equal(t, logrus.DebugLevel, logger.base.GetLevel())

	logger = NewWithOptions("not-a-level", "text")
	assert.Equal(t, logrus.InfoLevel, logger.base.GetLevel())
}

func TestLogger_FormattingAndFields(t *testing.T) {
	logger := NewWithOptions("info", "json")
	var buf bytes.Buffer
	logger.base.SetOutput(&buf)

	logger.WithFields(Fields{"content_id": "c-1"}).WithService("publisher").Info("published to %s", "twitter")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "published to twitter", line["msg"])
	assert.Equal(t, "c-1", line["content_id"])
	assert.Equal(t, "publisher", line["service"])
	assert.Equal(t, "info", line["level"])
}
