package strings

import (
	"fmt"
	"sync"
)

// Builder accumulates bytes and hands the result back as a zero-copy
// string. Unlike the standard library strings.Builder it can be reset
// and pooled, which is what GetBuilder and PutBuilder do.
type Builder struct {
	buf []byte
}

// NewBuilder returns a builder with the given initial capacity.
func NewBuilder(capacity int) *Builder {
	return &Builder{buf: make([]byte, 0, capacity)}
}

// WriteString appends s.
func (b *Builder) WriteString(s string) {
	b.buf = append(b.buf, s...)
}

// WriteByte appends a single byte. The error is always nil and exists
// to satisfy io.ByteWriter.
func (b *Builder) WriteByte(c byte) error {
	b.buf = append(b.buf, c)
	return nil
}

// Write appends p, satisfying io.Writer so fmt can print into the
// builder directly.
func (b *Builder) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// String returns the accumulated bytes as a zero-copy string. The
// result is only valid until the builder is mutated again; Clone it if
// it needs to outlive the builder.
func (b *Builder) String() string {
	return BytesToString(b.buf)
}

// Bytes returns the underlying buffer.
func (b *Builder) Bytes() []byte {
	return b.buf
}

// Len returns the number of accumulated bytes.
func (b *Builder) Len() int {
	return len(b.buf)
}

// Cap returns the capacity of the underlying buffer.
func (b *Builder) Cap() int {
	return cap(b.buf)
}

// Reset truncates the builder for reuse.
func (b *Builder) Reset() {
	b.buf = b.buf[:0]
}

// Grow ensures space for at least n more bytes.
func (b *Builder) Grow(n int) {
	if cap(b.buf)-len(b.buf) >= n {
		return
	}
	grown := make([]byte, len(b.buf), 2*cap(b.buf)+n)
	copy(grown, b.buf)
	b.buf = grown
}

// BuilderSize selects which pool a builder comes from.
type BuilderSize int

const (
	// Small fits identifiers, keys and type names.
	Small BuilderSize = iota
	// Medium fits SQL statements and serialized events.
	Medium
	// Large fits batched payloads.
	Large
)

var builderPools = [...]*sync.Pool{
	Small:  {New: func() interface{} { return NewBuilder(1 << 10) }},
	Medium: {New: func() interface{} { return NewBuilder(16 << 10) }},
	Large:  {New: func() interface{} { return NewBuilder(64 << 10) }},
}

// Builders that ballooned past this capacity are dropped on Put rather
// than pinning their peak size in the pool.
const maxPooledBuilder = 1 << 20

// sizeFor maps an expected output length to a pool.
func sizeFor(n int) BuilderSize {
	switch {
	case n > 16<<10:
		return Large
	case n > 1<<10:
		return Medium
	default:
		return Small
	}
}

// GetBuilder returns an empty builder from the pool of the given size
// class.
func GetBuilder(size BuilderSize) *Builder {
	if size < Small || size > Large {
		size = Small
	}
	b := builderPools[size].Get().(*Builder)
	b.Reset()
	return b
}

// PutBuilder returns a builder to its pool.
func PutBuilder(b *Builder, size BuilderSize) {
	if b == nil || b.Cap() > maxPooledBuilder {
		return
	}
	if size < Small || size > Large {
		size = Small
	}
	b.Reset()
	builderPools[size].Put(b)
}

// Concat joins parts with no separator through a pooled builder.
func Concat(parts ...string) string {
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	}

	total := 0
	for _, p := range parts {
		total += len(p)
	}

	size := sizeFor(total)
	b := GetBuilder(size)
	defer PutBuilder(b, size)

	for _, p := range parts {
		b.WriteString(p)
	}
	return Clone(b.String())
}

// Sprintf is fmt.Sprintf printing into a pooled builder, so only the
// copied-out result allocates.
func Sprintf(format string, args ...interface{}) string {
	if len(args) == 0 {
		return format
	}

	// Rough output estimate, sixteen bytes per argument.
	size := sizeFor(len(format) + len(args)*16)
	b := GetBuilder(size)
	defer PutBuilder(b, size)

	fmt.Fprintf(b, format, args...)
	return Clone(b.String())
}

// JoinPooled joins parts with delimiter through a pooled builder.
func JoinPooled(parts []string, delimiter string) string {
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	}

	total := (len(parts) - 1) * len(delimiter)
	for _, p := range parts {
		total += len(p)
	}

	size := sizeFor(total)
	b := GetBuilder(size)
	defer PutBuilder(b, size)

	b.WriteString(parts[0])
	for _, p := range parts[1:] {
		b.WriteString(delimiter)
		b.WriteString(p)
	}
	return Clone(b.String())
}

// BuildWith runs fn against a pooled builder and returns an owned copy
// of the result.
func BuildWith(size BuilderSize, fn func(*Builder)) string {
	b := GetBuilder(size)
	defer PutBuilder(b, size)

	fn(b)
	return Clone(b.String())
}
