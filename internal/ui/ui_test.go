package ui

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetFormat(t *testing.T) {
	var buf bytes.Buffer
	InitLogger()
	log.SetOutput(&buf)
	t.Cleanup(InitLogger)

	SetFormat("json")
	log.Info("Ingested", "file", "report.pdf", "chunks", 3)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "Ingested", line["msg"])
	assert.Equal(t, "report.pdf", line["file"])
	assert.Contains(t, line, "time")

	buf.Reset()
	SetFormat("text")
	log.Info("Ingested", "file", "report.pdf")
	assert.Contains(t, buf.String(), "file=report.pdf")
	assert.NotContains(t, buf.String(), "{")
}

func TestSetDebug(t *testing.T) {
	t.Cleanup(InitLogger)

	SetDebug(true)
	assert.Equal(t, log.DebugLevel, log.GetLevel())
	SetDebug(false)
	assert.Equal(t, log.InfoLevel, log.GetLevel())
}

func TestFormatScore(t *testing.T) {
	assert.Contains(t, FormatScore(0.873), "87.3% match")
	assert.Contains(t, FormatScore(0.2), "20.0% match")
}
