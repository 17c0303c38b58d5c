package helpers

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/tidwall/pretty"
)

var jsonStyle = &pretty.Options{Width: 80, Prefix: "", Indent: "  ", SortKeys: true}

// WriteJSON writes v as indented JSON with sorted keys and a trailing newline.
func WriteJSON(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	_, err = w.Write(pretty.PrettyOptions(data, jsonStyle))
	return err
}
