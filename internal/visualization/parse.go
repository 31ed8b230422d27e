package visualization

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

// ErrUnparseable is returned when no JSON object can be decoded from the
// model output.
var ErrUnparseable = errors.New("model response is not parseable JSON")

var fencedJSON = regexp.MustCompile("(?s)```json\n(.*?)\n```")

// Parse extracts the visualization from raw model text. A fenced json block
// wins over the surrounding text; otherwise the whole text is decoded.
// Fields missing in the payload are left empty, nothing is validated.
// Keys match case-insensitively as encoding/json does, so "Summary" and
// "IS_VALID_QUERY" fill the same fields as their lowercase forms.
func Parse(raw string) (*Visualization, error) {
	payload := raw
	if m := fencedJSON.FindStringSubmatch(raw); m != nil && m[1] != "" {
		payload = m[1]
	}

	trimmed := bytes.TrimSpace([]byte(payload))
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: top level is not an object", ErrUnparseable)
	}

	var v Visualization
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnparseable, err)
	}
	return &v, nil
}
