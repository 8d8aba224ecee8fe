package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"unicode/utf8"

	"golang.org/x/text/cases"
)

// Field names of the wire object.
const (
	FieldType    = "type"
	FieldContent = "content"
	FieldSyn     = "syn"
)

// Type is a message type. Comparison against the wire is case-insensitive.
type Type string

const (
	TypeConnect Type = "connect"
	TypeMove    Type = "move"
	TypeSkip    Type = "skip"
	TypeRegret  Type = "regret"
	TypeYield   Type = "yield"
	TypeLeave   Type = "leave"
	TypeNew     Type = "new"
)

const (
	ContentRequest  = "request"
	ContentAccepted = "accepted"
	ContentRejected = "rejected"
)

// Sep joins coordinate tokens in move content.
const Sep = "_"

var ErrMalformed = errors.New("protocol: malformed payload")

// Kind is the JSON kind of one field as it appeared on the wire.
type Kind uint8

const (
	KindAbsent Kind = iota
	KindNull
	KindString
	KindNumber
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	default:
		return "other"
	}
}

// Value is one field of a Message. The zero Value is absent.
type Value struct {
	kind Kind
	str  string
	raw  json.RawMessage // number text, or the verbatim JSON for KindOther
}

func String(s string) Value { return Value{kind: KindString, str: s} }

func Int(n int) Value {
	return Value{kind: KindNumber, raw: json.RawMessage(strconv.Itoa(n))}
}

func Null() Value { return Value{kind: KindNull} }

func (v Value) Kind() Kind { return v.kind }

// Present reports whether the field carried a non-null value.
func (v Value) Present() bool { return v.kind != KindAbsent && v.kind != KindNull }

func (v Value) IsString() bool { return v.kind == KindString }

// Str returns the string value, or "" for any other kind.
func (v Value) Str() string { return v.str }

// Int returns the integral value of a number field. Fractional numbers and
// anything outside int range report ok=false.
func (v Value) Int() (int, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	n, err := strconv.ParseInt(string(v.raw), 10, strconv.IntSize)
	if err != nil {
		f, ferr := strconv.ParseFloat(string(v.raw), 64)
		if ferr != nil || f != float64(int64(f)) {
			return 0, false
		}
		return int(f), true
	}
	return int(n), true
}

// Is compares a string field with s, ignoring case.
func (v Value) Is(s string) bool {
	return v.kind == KindString && fold(v.str) == fold(s)
}

func (v Value) String() string {
	switch v.kind {
	case KindString:
		return strconv.Quote(v.str)
	case KindNumber, KindOther:
		return string(v.raw)
	default:
		return v.kind.String()
	}
}

// Equal reports whether two values have the same kind and content.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == o.str
	case KindNumber, KindOther:
		return bytes.Equal(v.raw, o.raw)
	default:
		return true
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.str)
	case KindNumber, KindOther:
		return v.raw, nil
	default:
		return []byte("null"), nil
	}
}

func fold(s string) string {
	// A Caser keeps state between calls, so take a fresh one each time.
	return cases.Fold().String(s)
}

// Message is the {type, content, syn} object exchanged by the peers.
type Message struct {
	Type    Value
	Content Value
	Syn     Value
}

// Handshake builds a connect message whose syn carries a name or a
// rejection reason rather than a sequence number.
func Handshake(content, name string) Message {
	return Message{Type: String(string(TypeConnect)), Content: String(content), Syn: String(name)}
}

// Sequenced builds a message stamped with sequence number seq.
func Sequenced(t Type, content string, seq int) Message {
	return Message{Type: String(string(t)), Content: String(content), Syn: Int(seq)}
}

// Unsequenced builds a message that takes no part in sequencing (new, leave).
func Unsequenced(t Type, content string) Message {
	return Message{Type: String(string(t)), Content: String(content), Syn: Null()}
}

// IsType compares the type field with t, ignoring case.
func (m Message) IsType(t Type) bool {
	return m.Type.Is(string(t))
}

func (m Message) Equal(o Message) bool {
	return m.Type.Equal(o.Type) && m.Content.Equal(o.Content) && m.Syn.Equal(o.Syn)
}

func (m Message) String() string {
	return fmt.Sprintf("{type:%s content:%s syn:%s}", m.Type, m.Content, m.Syn)
}

// Encode serialises m as a JSON object. Absent fields are left out.
func Encode(m Message) ([]byte, error) {
	obj := make(map[string]Value, 3)
	for _, f := range []struct {
		name string
		v    Value
	}{{FieldType, m.Type}, {FieldContent, m.Content}, {FieldSyn, m.Syn}} {
		if f.v.kind != KindAbsent {
			obj[f.name] = f.v
		}
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return data, nil
}

// Decode parses one payload. Only structural problems fail here: bytes that
// are not UTF-8, not JSON, or not a JSON object. Missing or mistyped fields
// decode fine and are judged by the Dispatcher.
func Decode(payload []byte) (Message, error) {
	if !utf8.Valid(payload) {
		return Message{}, fmt.Errorf("%w: not utf-8", ErrMalformed)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if obj == nil {
		return Message{}, fmt.Errorf("%w: not an object", ErrMalformed)
	}

	var m Message
	var err error
	if m.Type, err = decodeValue(obj, FieldType); err != nil {
		return Message{}, err
	}
	if m.Content, err = decodeValue(obj, FieldContent); err != nil {
		return Message{}, err
	}
	if m.Syn, err = decodeValue(obj, FieldSyn); err != nil {
		return Message{}, err
	}
	return m, nil
}

func decodeValue(obj map[string]json.RawMessage, name string) (Value, error) {
	raw, ok := obj[name]
	if !ok {
		return Value{}, nil
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Value{}, fmt.Errorf("%w: empty %s", ErrMalformed, name)
	}
	switch c := raw[0]; {
	case c == 'n':
		return Null(), nil
	case c == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Value{}, fmt.Errorf("%w: %s: %v", ErrMalformed, name, err)
		}
		return String(s), nil
	case c == '-' || (c >= '0' && c <= '9'):
		return Value{kind: KindNumber, raw: append(json.RawMessage(nil), raw...)}, nil
	default:
		return Value{kind: KindOther, raw: append(json.RawMessage(nil), raw...)}, nil
	}
}
