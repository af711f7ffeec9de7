package logutil

import (
	"bytes"
	"encoding/json"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogf_TextAndJSON(t *testing.T) {
	var buf bytes.Buffer
	l := log.New(&buf, "", 0)

	SetJSON(false)
	Warnf(l, "member %s: %d bytes", "n1", 32)
	assert.Equal(t, "WARN member n1: 32 bytes\n", buf.String())

	buf.Reset()
	SetJSON(true)
	defer SetJSON(false)
	Errorf(l, "decode failed")
	var evt map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &evt))
	assert.Equal(t, "error", evt["level"])
	assert.Equal(t, "decode failed", evt["msg"])
}
