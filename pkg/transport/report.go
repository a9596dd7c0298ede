package transport

import (
	"bytes"
	"encoding/json"
)

// Report is the analysis payload returned by the service. It is passed
// through to the presentation layer untouched.
type Report json.RawMessage

// MarshalJSON emits the payload as-is.
func (r Report) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}

// Indent returns the payload pretty-printed.
func (r Report) Indent() ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, r, "", "  "); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Summary pulls the headline fields out of a scalp report for one-line
// display. Missing fields come back empty.
func (r Report) Summary() (scalpType, severity string) {
	var s struct {
		ScalpType struct {
			Name string `json:"name"`
		} `json:"scalpType"`
		Severity struct {
			Level string `json:"level"`
		} `json:"severity"`
	}
	if err := json.Unmarshal(r, &s); err != nil {
		return "", ""
	}
	return s.ScalpType.Name, s.Severity.Level
}

// present reports whether raw carries a non-empty structured value.
func present(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	switch string(trimmed) {
	case "", "null", "{}", "[]", `""`:
		return false
	}
	return true
}
