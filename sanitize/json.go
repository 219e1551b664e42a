package sanitize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
)

// ErrSyntax is returned by [Parse] for input that is not a single JSON value.
var ErrSyntax = errors.New("sanitize: invalid JSON")

// maxDepth bounds nesting so hostile bodies cannot exhaust the stack.
const maxDepth = 512

// Parse decodes one JSON document, preserving member order and number
// literals.
func Parse(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	v, err := parseValue(dec, 0)
	if err != nil {
		return Value{}, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Value{}, fmt.Errorf("%w: trailing data", ErrSyntax)
	}
	return v, nil
}

func parseValue(dec *json.Decoder, depth int) (Value, error) {
	if depth > maxDepth {
		return Value{}, fmt.Errorf("%w: nesting too deep", ErrSyntax)
	}
	tok, err := dec.Token()
	if err != nil {
		return Value{}, fmt.Errorf("%w: %v", ErrSyntax, err)
	}

	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		return Number(t), nil
	case string:
		return String(t), nil
	case json.Delim:
		switch t {
		case '[':
			var items []Value
			for dec.More() {
				item, err := parseValue(dec, depth+1)
				if err != nil {
					return Value{}, err
				}
				items = append(items, item)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, fmt.Errorf("%w: %v", ErrSyntax, err)
			}
			return Array(items...), nil
		case '{':
			var members []Member
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, fmt.Errorf("%w: %v", ErrSyntax, err)
				}
				key, ok := keyTok.(string)
				if !ok {
					return Value{}, fmt.Errorf("%w: object key is not a string", ErrSyntax)
				}
				val, err := parseValue(dec, depth+1)
				if err != nil {
					return Value{}, err
				}
				members = append(members, Member{Key: key, Value: val})
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, fmt.Errorf("%w: %v", ErrSyntax, err)
			}
			return Object(members...), nil
		}
	}
	return Value{}, fmt.Errorf("%w: unexpected token %v", ErrSyntax, tok)
}

// MarshalJSON encodes v with members in their stored order.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) encode(buf *bytes.Buffer) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		if v.boolean {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case KindNumber:
		if v.number == "" {
			buf.WriteString("0")
		} else {
			buf.WriteString(v.number.String())
		}
	case KindString:
		return writeString(buf, v.str)
	case KindArray:
		buf.WriteByte('[')
		for i, item := range v.items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindObject:
		buf.WriteByte('{')
		for i, m := range v.members {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeString(buf, m.Key); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := m.Value.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("sanitize: unknown kind %d", v.kind)
	}
	return nil
}

func writeString(buf *bytes.Buffer, s string) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	buf.Write(raw)
	return nil
}

// FromValues converts query or form values into an object of string arrays,
// keys sorted.
func FromValues(values url.Values) Value {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	members := make([]Member, 0, len(keys))
	for _, k := range keys {
		items := make([]Value, len(values[k]))
		for i, s := range values[k] {
			items[i] = String(s)
		}
		members = append(members, Member{Key: k, Value: Array(items...)})
	}
	return Object(members...)
}

// ToValues is the inverse of [FromValues]. Non-string leaves are encoded as
// JSON text.
func ToValues(v Value) url.Values {
	out := url.Values{}
	for _, m := range v.Members() {
		elems := m.Value.Items()
		if m.Value.Kind() != KindArray {
			elems = []Value{m.Value}
		}
		for _, item := range elems {
			if item.Kind() == KindString {
				out.Add(m.Key, item.AsString())
				continue
			}
			raw, err := item.MarshalJSON()
			if err != nil {
				continue
			}
			out.Add(m.Key, string(raw))
		}
	}
	return out
}
