// Package codec converts embedding vectors to and from the forms the stores
// persist: the pgvector text literal "[1,2,3]" and a little-endian float32 BLOB.
// Encoded values are always passed as bound parameters.
package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"person-vectors/internal/embeddings"
)

// MalformedVectorError reports a vector that does not match the configured
// dimension or carries non-finite components.
type MalformedVectorError struct {
	Reason string
}

func (e *MalformedVectorError) Error() string {
	return "malformed vector: " + e.Reason
}

func malformed(format string, args ...any) error {
	return &MalformedVectorError{Reason: fmt.Sprintf(format, args...)}
}

// Codec validates and serializes vectors of a fixed dimension.
type Codec struct {
	Dimension      int
	AllowNonFinite bool
}

func New(dimension int, allowNonFinite bool) Codec {
	return Codec{Dimension: dimension, AllowNonFinite: allowNonFinite}
}

// Validate checks length and, unless allowed, finiteness.
func (c Codec) Validate(v embeddings.Vector) error {
	if len(v) != c.Dimension {
		return malformed("dimension %d, want %d", len(v), c.Dimension)
	}
	if c.AllowNonFinite {
		return nil
	}
	for i, f := range v {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return malformed("component %d is %v", i, f)
		}
	}
	return nil
}

// EncodeText returns the pgvector literal for v.
func (c Codec) EncodeText(v embeddings.Vector) (string, error) {
	if err := c.Validate(v); err != nil {
		return "", err
	}
	var b strings.Builder
	b.Grow(len(v)*12 + 2)
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String(), nil
}

// decimalComponent is the number grammar pgvector reads and writes: an
// optional minus sign, decimal digits and an optional exponent. Hex floats,
// a leading plus, underscores and NaN/Inf spellings are not part of it.
var decimalComponent = regexp.MustCompile(`^-?(?:[0-9]+(?:\.[0-9]*)?|\.[0-9]+)(?:[eE][-+]?[0-9]+)?$`)

// DecodeText parses a pgvector literal. Anything other than a bracketed,
// comma-separated list of numbers is rejected.
func (c Codec) DecodeText(s string) (embeddings.Vector, error) {
	raw := strings.TrimSpace(s)
	if len(raw) < 2 || raw[0] != '[' || raw[len(raw)-1] != ']' {
		return nil, malformed("not a bracketed vector literal")
	}
	raw = strings.TrimSpace(raw[1 : len(raw)-1])
	if raw == "" {
		return nil, malformed("dimension 0, want %d", c.Dimension)
	}
	parts := strings.Split(raw, ",")
	if len(parts) != c.Dimension {
		return nil, malformed("dimension %d, want %d", len(parts), c.Dimension)
	}
	v := make(embeddings.Vector, len(parts))
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if !decimalComponent.MatchString(p) {
			return nil, malformed("component %d: %q is not a decimal number", i, p)
		}
		f, err := strconv.ParseFloat(p, 32)
		if err != nil {
			return nil, malformed("component %d: %v", i, err)
		}
		v[i] = float32(f)
	}
	if err := c.Validate(v); err != nil {
		return nil, err
	}
	return v, nil
}

// EncodeBinary returns v as 4*D little-endian IEEE-754 bytes.
func (c Codec) EncodeBinary(v embeddings.Vector) ([]byte, error) {
	if err := c.Validate(v); err != nil {
		return nil, err
	}
	return AppendBinary(make([]byte, 0, len(v)*4), v), nil
}

// DecodeBinary parses a BLOB produced by EncodeBinary.
func (c Codec) DecodeBinary(b []byte) (embeddings.Vector, error) {
	if len(b) != c.Dimension*4 {
		return nil, malformed("blob length %d, want %d", len(b), c.Dimension*4)
	}
	v := ReadBinary(b)
	if err := c.Validate(v); err != nil {
		return nil, err
	}
	return v, nil
}

// AppendBinary appends the little-endian form of v without validation.
func AppendBinary(dst []byte, v embeddings.Vector) []byte {
	for _, f := range v {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(f))
	}
	return dst
}

// ReadBinary decodes a little-endian float32 BLOB of any length; a trailing
// partial component is ignored. Callers needing validation use DecodeBinary.
func ReadBinary(b []byte) embeddings.Vector {
	n := len(b) / 4
	v := make(embeddings.Vector, n)
	for i := 0; i < n; i++ {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
