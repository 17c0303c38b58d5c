package helpers

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	t.Run("Should write indented JSON with sorted keys", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteJSON(&buf, map[string]any{"b": 1, "a": []int{1, 2}}))
		out := buf.String()
		assert.True(t, json.Valid(buf.Bytes()))
		assert.Less(t, bytes.Index(buf.Bytes(), []byte(`"a"`)), bytes.Index(buf.Bytes(), []byte(`"b"`)))
		assert.Contains(t, out, "\n  \"b\": 1")
		assert.Equal(t, byte('\n'), out[len(out)-1])
	})
	t.Run("Should report values JSON cannot encode", func(t *testing.T) {
		assert.Error(t, WriteJSON(&bytes.Buffer{}, map[string]any{"f": func() {}}))
	})
}
