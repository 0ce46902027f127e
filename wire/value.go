package wire

import (
	"encoding/base64"
	"encoding/json"
	"math"
	"strconv"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// Value is a SQL value crossing the wire. It is one of Null, Integer,
// Float, Text or Blob. Integers are encoded as decimal strings so that
// the full 64-bit range survives every JSON layer, and blobs are encoded
// as padded standard base64.
type Value interface {
	isValue()
}

type Null struct{}
type Integer int64
type Float float64
type Text string
type Blob []byte

func (Null) isValue()    {}
func (Integer) isValue() {}
func (Float) isValue()   {}
func (Text) isValue()    {}
func (Blob) isValue()    {}

func (Null) MarshalJSON() ([]byte, error) {
	return []byte(`{"type":"null"}`), nil
}

func (v Integer) MarshalJSON() ([]byte, error) {
	return []byte(`{"type":"integer","value":"` + strconv.FormatInt(int64(v), 10) + `"}`), nil
}

func (v Float) MarshalJSON() ([]byte, error) {
	if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
		return nil, errors.New("float value is NaN or Infinity")
	}
	var b, err = json.Marshal(float64(v))
	if err != nil {
		return nil, err
	}
	return append(append([]byte(`{"type":"float","value":`), b...), '}'), nil
}

func (v Text) MarshalJSON() ([]byte, error) {
	var b, err = json.Marshal(string(v))
	if err != nil {
		return nil, err
	}
	return append(append([]byte(`{"type":"text","value":`), b...), '}'), nil
}

func (v Blob) MarshalJSON() ([]byte, error) {
	var enc = base64.StdEncoding.EncodeToString(v)
	return []byte(`{"type":"blob","base64":"` + enc + `"}`), nil
}

// rawValue is the JSON surface shared by all Value variants.
type rawValue struct {
	Type   string           `json:"type"`
	Value  *json.RawMessage `json:"value"`
	Base64 *string          `json:"base64"`
}

// UnmarshalValue parses a Value, rejecting unknown type tags, non-decimal
// integer strings, NaN or Infinity floats, non-UTF-8 text, and base64
// which is not in strict padded form.
func UnmarshalValue(data []byte) (Value, error) {
	var raw rawValue
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.WithMessage(err, "invalid value")
	}

	switch raw.Type {
	case "null":
		return Null{}, nil
	case "integer":
		if raw.Value == nil {
			return nil, errors.New("integer value is missing")
		}
		var s string
		if err := json.Unmarshal(*raw.Value, &s); err != nil {
			return nil, errors.New("integer value must be a decimal string")
		}
		var i, err = strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, errors.Errorf("invalid integer value %q", s)
		}
		return Integer(i), nil
	case "float":
		if raw.Value == nil {
			return nil, errors.New("float value is missing")
		}
		var f float64
		if err := json.Unmarshal(*raw.Value, &f); err != nil {
			return nil, errors.New("float value must be a JSON number")
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, errors.New("float value is NaN or Infinity")
		}
		return Float(f), nil
	case "text":
		if raw.Value == nil {
			return nil, errors.New("text value is missing")
		}
		// encoding/json replaces invalid UTF-8 with U+FFFD, so validate
		// the raw bytes before decoding.
		if !utf8.Valid(*raw.Value) {
			return nil, errors.New("text value is not valid UTF-8")
		}
		var s string
		if err := json.Unmarshal(*raw.Value, &s); err != nil {
			return nil, errors.New("text value must be a JSON string")
		}
		if !utf8.ValidString(s) {
			return nil, errors.New("text value is not valid UTF-8")
		}
		return Text(s), nil
	case "blob":
		if raw.Base64 == nil {
			return nil, errors.New("blob base64 is missing")
		}
		var b, err = base64.StdEncoding.Strict().DecodeString(*raw.Base64)
		if err != nil {
			return nil, errors.New("blob base64 is not valid padded base64")
		}
		return Blob(b), nil
	default:
		return nil, errors.Errorf("unknown value type %q", raw.Type)
	}
}

func unmarshalValues(raws []json.RawMessage) ([]Value, error) {
	var out = make([]Value, 0, len(raws))
	for _, r := range raws {
		var v, err = UnmarshalValue(r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// NamedArg binds a Value to a named SQL parameter. The name may carry a
// leading ':', '@' or '$' sigil; when it doesn't, the backend resolves
// the sigil against the prepared statement's parameters.
type NamedArg struct {
	Name  string
	Value Value
}

func (a *NamedArg) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name  string          `json:"name"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Name == "" {
		return errors.New("named argument is missing a name")
	}
	if raw.Value == nil {
		return errors.Errorf("named argument %q is missing a value", raw.Name)
	}
	var v, err = UnmarshalValue(raw.Value)
	if err != nil {
		return err
	}
	a.Name, a.Value = raw.Name, v
	return nil
}
