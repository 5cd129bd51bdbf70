package stock

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical produces the canonical JSON form of a sheet.
//
// Lines are ordered by UTF-16 code units (RFC 8785 key order), strings are
// NFC normalised and HTML characters are not escaped. Two stations holding
// the same tally produce byte-identical output, which is what Digest hashes.
func MarshalCanonical(cs Counters) ([]byte, error) {
	keys := make([]string, 0, len(cs))
	for k := range cs {
		keys = append(keys, string(k))
	}
	sort.Slice(keys, func(i, j int) bool {
		return lessUTF16(keys[i], keys[j])
	})

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		ks, err := marshalCanonicalString(k)
		if err != nil {
			return nil, err
		}
		buf.Write(ks)
		c := cs[Key(k)]
		// Field names are fixed and already in code-unit order.
		buf.WriteString(`:{"nonRunnable":`)
		buf.WriteString(strconv.Itoa(c.NonRunnable))
		buf.WriteString(`,"runnable":`)
		buf.WriteString(strconv.Itoa(c.Runnable))
		buf.WriteByte('}')
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func marshalCanonicalString(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// lessUTF16 compares strings by UTF-16 code units rather than UTF-8 bytes.
func lessUTF16(a, b string) bool {
	ua := utf16.Encode([]rune(a))
	ub := utf16.Encode([]rune(b))
	for i := 0; i < len(ua) && i < len(ub); i++ {
		if ua[i] != ub[i] {
			return ua[i] < ub[i]
		}
	}
	return len(ua) < len(ub)
}
