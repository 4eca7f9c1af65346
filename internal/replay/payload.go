package replay

import (
	"bytes"
	"strconv"
	"unicode/utf8"

	"github.com/valyala/fastjson"
)

// Envelope layout. The receiving merchants already parse notifications in
// this exact shape, so the formatting is part of the wire contract.
const (
	envelopeType = "notification"
	indentUnit   = "  "
	keySeparator = " : "
	itemSep      = ","
)

// MarshalEnvelope serializes {"type": "notification", "event": event,
// "object": body} with a fixed key order, two-space indentation and raw UTF-8
// strings. The object keeps the key order it had in the log; a repeated key
// keeps its first position and its last value. Numbers are written verbatim.
// The same inputs always produce the same bytes.
func MarshalEnvelope(event string, body *fastjson.Value) []byte {
	var buf bytes.Buffer
	buf.WriteString("{\n")
	writeIndent(&buf, 1)
	writeString(&buf, "type")
	buf.WriteString(keySeparator)
	writeString(&buf, envelopeType)
	buf.WriteString(itemSep + "\n")
	writeIndent(&buf, 1)
	writeString(&buf, "event")
	buf.WriteString(keySeparator)
	writeString(&buf, event)
	buf.WriteString(itemSep + "\n")
	writeIndent(&buf, 1)
	writeString(&buf, "object")
	buf.WriteString(keySeparator)
	writeValue(&buf, body, 1)
	buf.WriteString("\n}")
	return buf.Bytes()
}

type member struct {
	key   string
	value *fastjson.Value
}

// orderedMembers flattens an object, collapsing duplicate keys.
func orderedMembers(o *fastjson.Object) []member {
	var members []member
	index := make(map[string]int)
	o.Visit(func(k []byte, v *fastjson.Value) {
		key := string(k)
		if i, ok := index[key]; ok {
			members[i].value = v
			return
		}
		index[key] = len(members)
		members = append(members, member{key: key, value: v})
	})
	return members
}

func writeValue(buf *bytes.Buffer, v *fastjson.Value, depth int) {
	if v == nil {
		buf.WriteString("null")
		return
	}
	switch v.Type() {
	case fastjson.TypeObject:
		o, _ := v.Object()
		members := orderedMembers(o)
		if len(members) == 0 {
			buf.WriteString("{}")
			return
		}
		buf.WriteString("{\n")
		for i, m := range members {
			if i > 0 {
				buf.WriteString(itemSep + "\n")
			}
			writeIndent(buf, depth+1)
			writeString(buf, m.key)
			buf.WriteString(keySeparator)
			writeValue(buf, m.value, depth+1)
		}
		buf.WriteByte('\n')
		writeIndent(buf, depth)
		buf.WriteByte('}')
	case fastjson.TypeArray:
		items, _ := v.Array()
		if len(items) == 0 {
			buf.WriteString("[]")
			return
		}
		buf.WriteString("[\n")
		for i, item := range items {
			if i > 0 {
				buf.WriteString(itemSep + "\n")
			}
			writeIndent(buf, depth+1)
			writeValue(buf, item, depth+1)
		}
		buf.WriteByte('\n')
		writeIndent(buf, depth)
		buf.WriteByte(']')
	case fastjson.TypeString:
		s, _ := v.StringBytes()
		writeString(buf, string(s))
	case fastjson.TypeNumber:
		buf.Write(v.MarshalTo(nil))
	case fastjson.TypeTrue:
		buf.WriteString("true")
	case fastjson.TypeFalse:
		buf.WriteString("false")
	default:
		buf.WriteString("null")
	}
}

func writeIndent(buf *bytes.Buffer, depth int) {
	for i := 0; i < depth; i++ {
		buf.WriteString(indentUnit)
	}
}

// writeString quotes s, escaping only what JSON requires. Non-ASCII runes
// are written as UTF-8.
func writeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for i := 0; i < len(s); {
		c := s[i]
		if c >= utf8.RuneSelf {
			r, size := utf8.DecodeRuneInString(s[i:])
			buf.WriteRune(r)
			i += size
			continue
		}
		switch c {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		default:
			if c < 0x20 {
				buf.WriteString(`\u00`)
				hex := strconv.FormatInt(int64(c), 16)
				if len(hex) == 1 {
					buf.WriteByte('0')
				}
				buf.WriteString(hex)
			} else {
				buf.WriteByte(c)
			}
		}
		i++
	}
	buf.WriteByte('"')
}
