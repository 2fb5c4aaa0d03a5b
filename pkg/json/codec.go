// Package json wraps goccy/go-json behind the encoding/json call shape
// and recycles the buffers used on encode-heavy paths.
//
// Every change event that leaves the pipeline is serialized at least
// once, so encoding shows up early in CPU and heap profiles. The goccy
// encoder keeps the drop-in API while skipping most of the reflection
// cost, and the buffer pool absorbs the per-batch allocations that
// remain.
package json

import (
	"bytes"
	"io"
	"sync"

	gojson "github.com/goccy/go-json"
)

// Buffers that grow past this capacity are dropped instead of pooled.
// Oversized payloads such as snapshot batches or TOASTed rows would
// otherwise pin their peak size in memory for the life of the process.
const maxPooledBuffer = 1 << 20

var bufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 4096))
	},
}

// Marshal is a drop-in replacement for encoding/json.Marshal.
func Marshal(v interface{}) ([]byte, error) {
	return gojson.Marshal(v)
}

// Unmarshal is a drop-in replacement for encoding/json.Unmarshal.
func Unmarshal(data []byte, v interface{}) error {
	return gojson.Unmarshal(data, v)
}

// MarshalIndent encodes v with the given prefix and indentation.
func MarshalIndent(v interface{}, prefix, indent string) ([]byte, error) {
	return gojson.MarshalIndent(v, prefix, indent)
}

// GetBuffer returns an empty buffer from the pool.
func GetBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer returns buf to the pool unless it grew past maxPooledBuffer.
func PutBuffer(buf *bytes.Buffer) {
	if buf.Cap() > maxPooledBuffer {
		return
	}
	bufferPool.Put(buf)
}

// detach copies buf's contents so the buffer itself can go back to the pool.
func detach(buf *bytes.Buffer) []byte {
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out
}

// GetEncoder returns an encoder writing to w with HTML escaping
// disabled. goccy encoders bind to their writer at construction and
// cannot be rebound, so recycling happens at the buffer level rather
// than here.
func GetEncoder(w io.Writer) *gojson.Encoder {
	enc := gojson.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc
}

// PutEncoder releases an encoder obtained from GetEncoder.
func PutEncoder(*gojson.Encoder) {}

// GetDecoder returns a decoder reading from r with UseNumber set:
// bigint and numeric column values arrive as json.Number and keep
// their full precision instead of being folded into float64.
func GetDecoder(r io.Reader) *gojson.Decoder {
	dec := gojson.NewDecoder(r)
	dec.UseNumber()
	return dec
}

// PutDecoder releases a decoder obtained from GetDecoder.
func PutDecoder(*gojson.Decoder) {}
