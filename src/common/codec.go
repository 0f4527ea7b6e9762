package common

import (
	"bytes"

	"github.com/ugorji/go/codec"
)

// canonicalHandle sorts map keys so that equal values always encode to the same
// bytes. Everything that is signed or hashed goes through it.
func canonicalHandle() *codec.JsonHandle {
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	return jh
}

// MarshalCanonical encodes v as canonical JSON.
func MarshalCanonical(v interface{}) ([]byte, error) {
	b := new(bytes.Buffer)
	enc := codec.NewEncoder(b, canonicalHandle())
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// UnmarshalCanonical decodes data produced by MarshalCanonical into v.
func UnmarshalCanonical(data []byte, v interface{}) error {
	dec := codec.NewDecoder(bytes.NewReader(data), canonicalHandle())
	return dec.Decode(v)
}
