package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalid is wrapped by every parse and validation failure.
var ErrInvalid = errors.New("invalid document")

// Number is a JSON amount that may arrive as a number or a numeric string.
type Number float64

func (n *Number) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		return nil
	}
	if unq, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unq)
		if s == "" {
			*n = 0
			return nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("not a number: %s", data)
	}
	*n = Number(f)
	return nil
}

// Money formats n with two decimals.
func (n Number) Money() string {
	return strconv.FormatFloat(float64(n), 'f', 2, 64)
}

// String formats n without trailing zeros, as used for quantities.
func (n Number) String() string {
	return strconv.FormatFloat(float64(n), 'f', -1, 64)
}

func (l *Line) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		*l = Line{Type: LineText, Text: text}
		return nil
	}

	type plain Line
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*l = Line(p)
	return nil
}

// Parse decodes a print payload. An empty or null payload is an empty
// document; anything other than a JSON object is invalid.
func Parse(raw []byte) (*Document, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return &Document{}, nil
	}
	if raw[0] != '{' {
		return nil, fmt.Errorf("%w: payload must be a JSON object", ErrInvalid)
	}

	var d Document
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	fields, err := orderedFields(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	d.Fields = fields
	return &d, nil
}

// orderedFields lists the top-level fields of an object in source order.
func orderedFields(raw []byte) ([]Field, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if _, err := dec.Token(); err != nil {
		return nil, err
	}

	var fields []Field
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := tok.(string)

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}
		fields = append(fields, Field{Key: key, Value: fieldText(value)})
	}
	return fields, nil
}

func fieldText(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, v); err != nil {
		return string(v)
	}
	return buf.String()
}
