// Package strings holds allocation-aware string helpers for the
// replication hot path.
//
// Decoding a WAL stream produces a flood of short lived strings. Column
// and type names repeat on every row change, and partition keys and SQL
// statements are rebuilt per event or per session. The helpers here cut
// that churn with pooled builders and zero-copy conversions; names that
// repeat are collapsed by an interner.
package strings

import (
	"fmt"
	"strconv"
	"unsafe"
)

// BytesToString reinterprets b as a string without copying. The caller
// must not modify b afterwards.
func BytesToString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(unsafe.SliceData(b), len(b))
}

// StringToBytes reinterprets s as a byte slice without copying. The
// returned slice must not be modified.
func StringToBytes(s string) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

// Clone returns a copy of s that owns its backing memory. Needed when a
// string built in a pooled buffer outlives the buffer.
func Clone(s string) string {
	if s == "" {
		return ""
	}
	b := make([]byte, len(s))
	copy(b, s)
	return BytesToString(b)
}

// Index returns the offset of the first occurrence of substr in s, or
// -1 if substr is not present.
func Index(s, substr string) int {
	switch {
	case substr == "":
		return 0
	case len(substr) > len(s):
		return -1
	}

	first := substr[0]
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i] == first && s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

// HasPrefix reports whether s begins with prefix.
func HasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// HasSuffix reports whether s ends with suffix.
func HasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

// TrimSpace trims ASCII whitespace from both ends of s. Type modifier
// strings and catalog values never carry Unicode spaces, so the byte
// loop skips the UTF-8 decoding the standard library version pays for.
func TrimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && asciiSpace(s[start]) {
		start++
	}
	for end > start && asciiSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func asciiSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}
	return false
}

// Split cuts s around every occurrence of delimiter. The returned parts
// are views into s, not copies. An empty delimiter returns s whole.
func Split(s, delimiter string) []string {
	if delimiter == "" {
		return []string{s}
	}

	parts := make([]string, 0, 4)
	for {
		idx := Index(s, delimiter)
		if idx < 0 {
			return append(parts, s)
		}
		parts = append(parts, s[:idx])
		s = s[idx+len(delimiter):]
	}
}

// ValueToString renders a column value as a string without going
// through fmt for the types that dominate row payloads. It backs
// partition key construction, where fmt.Sprintf("%v", ...) would
// allocate on every event.
func ValueToString(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return BytesToString(v)
	case int:
		return strconv.Itoa(v)
	case int8:
		return strconv.FormatInt(int64(v), 10)
	case int16:
		return strconv.FormatInt(int64(v), 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint:
		return strconv.FormatUint(uint64(v), 10)
	case uint8:
		return strconv.FormatUint(uint64(v), 10)
	case uint16:
		return strconv.FormatUint(uint64(v), 10)
	case uint32:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case fmt.Stringer:
		// Covers json.Number values decoded from wal2json payloads.
		return v.String()
	default:
		return Sprintf("%v", value)
	}
}
