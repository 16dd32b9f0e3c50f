package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// composeKinds maps a compose command to the line type it builds and the
// field its first value fills.
var composeKinds = map[string]struct {
	lineType string
	field    string
}{
	"text":    {"text", "text"},
	"feed":    {"feed", "lines"},
	"divider": {"divider", "char"},
	"cut":     {"cut", ""},
	"barcode": {"barcode", "value"},
	"qr":      {"qr", "value"},
	"total":   {"total", "label"},
	"logo":    {"logo", "base64"},
}

// composeDocument turns compose arguments into a {"lines": [...]} payload.
// Each line starts with a command (text:"Hello", feed:2, cut) followed by
// name:value properties (size:2 align:center).
func composeDocument(args []string) ([]byte, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("no compose arguments provided")
	}

	var lines []map[string]interface{}
	var current map[string]interface{}

	for _, arg := range args {
		if line, ok, err := composeStart(arg); ok {
			if err != nil {
				return nil, fmt.Errorf("failed to parse command '%s': %v", arg, err)
			}
			if current != nil {
				lines = append(lines, current)
			}
			current = line
			continue
		}
		if current == nil {
			return nil, fmt.Errorf("unexpected argument '%s' (expected command start)", arg)
		}
		if err := composeProperty(current, arg); err != nil {
			return nil, fmt.Errorf("failed to parse property '%s': %v", arg, err)
		}
	}
	if current != nil {
		lines = append(lines, current)
	}

	return json.Marshal(map[string]interface{}{"lines": lines})
}

// composeStart parses arg when it begins a new line.
func composeStart(arg string) (map[string]interface{}, bool, error) {
	name, value, hasValue := strings.Cut(arg, ":")
	kind, ok := composeKinds[name]
	if !ok {
		return nil, false, nil
	}

	line := map[string]interface{}{"type": kind.lineType}
	if !hasValue || kind.field == "" {
		return line, true, nil
	}

	value = strings.Trim(value, `"'`)
	if kind.field == "lines" {
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, true, fmt.Errorf("invalid feed lines value: %s", value)
		}
		line[kind.field] = n
	} else {
		line[kind.field] = value
	}
	return line, true, nil
}

// composeProperty adds a name:value property to line.
func composeProperty(line map[string]interface{}, arg string) error {
	name, value, ok := strings.Cut(arg, ":")
	if !ok || name == "" {
		return fmt.Errorf("property must be in format 'name:value', got: %s", arg)
	}

	if intVal, err := strconv.Atoi(value); err == nil {
		line[name] = intVal
	} else if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
		line[name] = floatVal
	} else if boolVal, err := strconv.ParseBool(value); err == nil {
		line[name] = boolVal
	} else {
		line[name] = strings.Trim(value, `"'`)
	}
	return nil
}
