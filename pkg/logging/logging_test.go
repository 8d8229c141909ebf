package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewFiltersBelowWarnUnlessVerbose(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(buf, false)
	log.Info("hidden")
	log.Warn("shown")
	_ = log.Sync()

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	buf.Reset()
	log = New(buf, true)
	log.Debug("details")
	_ = log.Sync()
	assert.Contains(t, buf.String(), "details")
}
