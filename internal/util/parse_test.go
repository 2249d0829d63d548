package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"a":1}`, `{"a":1}`},
		{"surrounding prose", `Sure, here you go: {"a":1} hope that helps`, `{"a":1}`},
		{"code fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"nested braces", `{"a":{"b":2}}`, `{"a":{"b":2}}`},
		{"braces inside strings", `{"a":"}{"}`, `{"a":"}{"}`},
		{"escaped quote in string", `{"a":"say \"hi\" {now}"}`, `{"a":"say \"hi\" {now}"}`},
		{"no object", "nothing here", ""},
		{"unbalanced", `{"a":1`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSONObject(tt.in))
		})
	}
}

func TestDecodeInto(t *testing.T) {
	var v struct {
		Continue bool `json:"continue"`
	}
	require.True(t, DecodeInto("the verdict:\n```json\n{\"continue\": true}\n```", &v))
	assert.True(t, v.Continue)

	assert.False(t, DecodeInto("no json at all", &v))
	assert.False(t, DecodeInto(`{"continue": "not a bool"}`, &v))
}
