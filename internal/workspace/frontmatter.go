package workspace

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// delimiter separates a front-matter block from the document body.
var delimiter = []byte("---")

// SplitFrontMatter separates an optional leading front-matter block from the
// document body. A document has front matter when its first non-blank line
// is "---"; the block runs to the next line that is exactly "---".
// Documents without a block are returned whole as the body.
func SplitFrontMatter(data []byte) (meta, body []byte, err error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	first, rest, _ := cutLine(trimmed)
	if !bytes.Equal(bytes.TrimSpace(first), delimiter) {
		return nil, data, nil
	}

	var block bytes.Buffer
	for len(rest) > 0 {
		var line []byte
		line, rest, _ = cutLine(rest)
		if bytes.Equal(bytes.TrimRight(line, " \t\r"), delimiter) {
			return block.Bytes(), rest, nil
		}
		block.Write(line)
		block.WriteByte('\n')
	}
	return nil, nil, fmt.Errorf("front matter: missing closing %q", delimiter)
}

func cutLine(b []byte) (line, rest []byte, found bool) {
	return bytes.Cut(b, []byte("\n"))
}

// Meta is decoded front matter. Descriptive only; never interpreted.
type Meta map[string]any

// decodeDocument splits data and decodes the body into v. Unknown body
// fields are rejected when strict is set.
func decodeDocument(data []byte, v any, strict bool) (Meta, error) {
	rawMeta, body, err := SplitFrontMatter(data)
	if err != nil {
		return nil, err
	}

	var meta Meta
	if len(bytes.TrimSpace(rawMeta)) > 0 {
		if err := yaml.Unmarshal(rawMeta, &meta); err != nil {
			return nil, fmt.Errorf("front matter: %w", err)
		}
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return meta, fmt.Errorf("document body is empty")
	}
	dec := yaml.NewDecoder(bytes.NewReader(body))
	dec.KnownFields(strict)
	if err := dec.Decode(v); err != nil {
		return meta, err
	}
	return meta, nil
}
