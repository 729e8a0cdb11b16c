package schemas_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/webpilot-ai/webpilot/api/schemas"
)

func TestConstructState(t *testing.T) {
	state := schemas.ConstructState(
		"book a table",
		"https://example.com",
		[]schemas.PageElement{"link [0] Book now", "input [1] Party size"},
		[]string{"click link [2]"},
	)

	expected := "Objective: book a table\n" +
		"URL: https://example.com\n" +
		"Previous commands:\n" +
		"- click link [2]\n" +
		"Elements on the page:\n" +
		"- link [0] Book now\n" +
		"- input [1] Party size"
	assert.Equal(t, expected, state)
}

func TestConstructStateNoHistory(t *testing.T) {
	state := schemas.ConstructState("obj", "https://example.com", nil, nil)

	assert.Contains(t, state, "Previous commands:\n- None")
	assert.Equal(t, state, schemas.ConstructState("obj", "https://example.com", nil, nil),
		"state text must be byte stable")
}
