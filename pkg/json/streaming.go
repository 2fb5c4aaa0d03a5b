package json

import (
	"io"

	gojson "github.com/goccy/go-json"
)

// StreamingEncoder writes a sequence of values as newline delimited
// JSON, or as a single JSON array when constructed with isArray set,
// without holding the whole sequence in memory.
//
// Write failures are sticky: once any write fails, Encode and Close
// keep returning the first error seen.
type StreamingEncoder struct {
	w       io.Writer
	enc     *gojson.Encoder
	array   bool
	pretty  bool
	started bool
	err     error
}

// NewStreamingEncoder returns an encoder streaming to w. With isArray
// set the output is wrapped in brackets and comma separated, otherwise
// each value lands on its own line.
func NewStreamingEncoder(w io.Writer, isArray bool) *StreamingEncoder {
	se := &StreamingEncoder{w: w, enc: GetEncoder(w), array: isArray}
	if isArray {
		se.writeRaw("[")
	}
	return se
}

// SetPretty toggles indented output.
func (se *StreamingEncoder) SetPretty(pretty bool, indent string) {
	se.pretty = pretty
	if pretty {
		se.enc.SetIndent("", indent)
	} else {
		se.enc.SetIndent("", "")
	}
}

// Encode writes one value to the stream.
func (se *StreamingEncoder) Encode(v interface{}) error {
	if se.array {
		if se.started {
			se.writeRaw(",")
			if se.pretty {
				se.writeRaw("\n")
			}
		}
		se.started = true
	}
	if se.err == nil {
		if err := se.enc.Encode(v); err != nil {
			se.err = err
		}
	}
	return se.err
}

// Close terminates the stream and releases the encoder. Array output
// gets its closing bracket here.
func (se *StreamingEncoder) Close() error {
	if se.array {
		if se.pretty {
			se.writeRaw("\n")
		}
		se.writeRaw("]")
	}
	PutEncoder(se.enc)
	return se.err
}

func (se *StreamingEncoder) writeRaw(s string) {
	if se.err != nil {
		return
	}
	if _, err := io.WriteString(se.w, s); err != nil {
		se.err = err
	}
}

// MarshalArray encodes values as one JSON array.
func MarshalArray(values []interface{}) ([]byte, error) {
	if len(values) == 0 {
		return []byte("[]"), nil
	}

	buf := GetBuffer()
	defer PutBuffer(buf)

	enc := NewStreamingEncoder(buf, true)
	for _, v := range values {
		if err := enc.Encode(v); err != nil {
			return nil, err
		}
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return detach(buf), nil
}

// MarshalMultiple encodes values back to back with separator between
// them. A newline separator yields NDJSON, one value per line.
func MarshalMultiple(values []interface{}, separator []byte) ([]byte, error) {
	buf := GetBuffer()
	defer PutBuffer(buf)

	for i, v := range values {
		if i > 0 {
			buf.Write(separator)
		}
		data, err := gojson.Marshal(v)
		if err != nil {
			return nil, err
		}
		buf.Write(data)
	}
	return detach(buf), nil
}
