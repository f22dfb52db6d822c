package sensor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/teranos/windturbine/errors"
)

// Artifact formats
const (
	FormatAuto = "auto"
	FormatJSON = "json"
	FormatYAML = "yaml"
	FormatTOML = "toml"
)

// DetectFormat resolves "auto" (or empty) from the file extension; JSON otherwise
func DetectFormat(path, format string) string {
	if format != "" && format != FormatAuto {
		return strings.ToLower(format)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".toml":
		return FormatTOML
	default:
		return FormatJSON
	}
}

// Decode parses an artifact and validates the required fields.
// Every failure is marked errors.ErrMalformedInput.
func Decode(data []byte, format string) (Reading, error) {
	var (
		fields map[string]string
		err    error
	)
	switch format {
	case FormatJSON, "":
		fields, err = decodeJSON(data)
	case FormatYAML:
		fields, err = decodeYAML(data)
	case FormatTOML:
		fields, err = decodeTOML(data)
	default:
		return Reading{}, errors.NewMalformedInputError("unsupported artifact format %q", format)
	}
	if err != nil {
		return Reading{}, err
	}
	return readingFromMap(fields), nil
}

func malformed(err error, format string) error {
	return errors.Mark(errors.Wrapf(err, "decode %s artifact", format), errors.ErrMalformedInput)
}

func decodeJSON(data []byte) (map[string]string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, malformed(err, FormatJSON)
	}
	if raw == nil {
		return nil, errors.NewMalformedInputError("artifact is not a JSON object")
	}

	fields := make(map[string]string, len(Fields))
	for _, name := range Fields {
		v, ok := raw[name]
		if !ok {
			return nil, missing(name)
		}
		switch x := v.(type) {
		case string:
			fields[name] = x
		case json.Number:
			fields[name] = x.String()
		default:
			return nil, notScalar(name, v)
		}
	}
	return fields, nil
}

func decodeYAML(data []byte) (map[string]string, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, malformed(err, FormatYAML)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, errors.NewMalformedInputError("artifact is not a YAML mapping")
	}

	// Values keep their literal text, so 0.90 stays "0.90"
	nodes := make(map[string]*yaml.Node)
	m := doc.Content[0]
	for i := 0; i+1 < len(m.Content); i += 2 {
		nodes[m.Content[i].Value] = m.Content[i+1]
	}

	fields := make(map[string]string, len(Fields))
	for _, name := range Fields {
		n, ok := nodes[name]
		if !ok {
			return nil, missing(name)
		}
		if n.Kind == yaml.AliasNode && n.Alias != nil {
			n = n.Alias
		}
		if n.Kind != yaml.ScalarNode {
			return nil, notScalar(name, n.Tag)
		}
		switch n.ShortTag() {
		case "!!str", "!!int", "!!float", "!!timestamp":
			fields[name] = n.Value
		default:
			return nil, notScalar(name, n.ShortTag())
		}
	}
	return fields, nil
}

func decodeTOML(data []byte) (map[string]string, error) {
	var raw map[string]interface{}
	if _, err := toml.Decode(string(data), &raw); err != nil {
		return nil, malformed(err, FormatTOML)
	}

	fields := make(map[string]string, len(Fields))
	for _, name := range Fields {
		v, ok := raw[name]
		if !ok {
			return nil, missing(name)
		}
		switch x := v.(type) {
		case string:
			fields[name] = x
		case int64:
			fields[name] = strconv.FormatInt(x, 10)
		case float64:
			fields[name] = strconv.FormatFloat(x, 'f', -1, 64)
		case time.Time:
			fields[name] = formatTOMLTime(x)
		default:
			return nil, notScalar(name, v)
		}
	}
	return fields, nil
}

// formatTOMLTime renders TOML datetimes back to text. Local values carry
// a named zero-offset zone from the decoder.
func formatTOMLTime(t time.Time) string {
	switch t.Location().String() {
	case "datetime-local":
		return t.Format("2006-01-02T15:04:05.999999999")
	case "date-local":
		return t.Format("2006-01-02")
	case "time-local":
		return t.Format("15:04:05.999999999")
	default:
		return t.Format(time.RFC3339Nano)
	}
}

func missing(name string) error {
	return errors.NewMalformedInputError("required field %q is missing", name)
}

func notScalar(name string, v interface{}) error {
	return errors.NewMalformedInputError("field %q must be a string or number, got %v", name, describe(v))
}

func describe(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return v.(string)
	case bool:
		return "bool"
	case map[string]interface{}:
		return "object"
	case []interface{}:
		return "array"
	default:
		return fmt.Sprintf("%T", v)
	}
}
