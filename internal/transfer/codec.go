package transfer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/arrdeck/arrdeck/internal/config/store"
)

// Format selects the document encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts "json", "yaml" or "yml", case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unknown export format %q (want json or yaml)", s)
}

// Encode writes doc to w in the given format.
func Encode(w io.Writer, doc *Document, format Format) error {
	switch format {
	case FormatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown export format %q", format)
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Decode parses a document, detecting JSON or YAML from its first
// non-space byte. Parse failures are reported as store.DataError.
func Decode(data []byte) (*Document, Format, error) {
	trimmed := bytes.TrimSpace(bytes.TrimPrefix(data, utf8BOM))
	if len(trimmed) == 0 {
		return nil, "", store.DataError{Op: "transfer: decode document", Err: errors.New("document is empty")}
	}

	var doc Document
	if trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, FormatJSON, store.DataError{Op: "transfer: decode json document", Err: err}
		}
		return &doc, FormatJSON, nil
	}
	if err := yaml.Unmarshal(trimmed, &doc); err != nil {
		return nil, FormatYAML, store.DataError{Op: "transfer: decode yaml document", Err: err}
	}
	return &doc, FormatYAML, nil
}
