package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webpilot-ai/webpilot/api/schemas"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		cmd     string
		action  string
		id      string
		payload string
	}{
		{"click link [7]", "click", "7", ""},
		{"click button [0]", "click", "0", ""},
		{"type input [3] hello world", "type", "3", "hello world"},
		{"type textarea [12] one line only", "type", "12", "one line only"},
	}
	for _, tc := range tests {
		action, id, payload, err := parseCommand(schemas.Command(tc.cmd))
		require.NoError(t, err, tc.cmd)
		assert.Equal(t, tc.action, action)
		assert.Equal(t, tc.id, id)
		assert.Equal(t, tc.payload, payload)
	}
}

func TestParseCommandRejectsMalformedInput(t *testing.T) {
	for _, cmd := range []string{"", "click", "click link seven", "type input hello"} {
		_, _, _, err := parseCommand(schemas.Command(cmd))
		assert.Error(t, err, cmd)
	}
}
