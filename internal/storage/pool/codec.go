package pool

import (
	"reflect"

	"github.com/ugorji/go/codec"
)

var mapStrIntfTyp = reflect.TypeOf(map[string]interface{}(nil))

// cborHandle is the shared CBOR configuration for stored records.
// SignedInteger keeps integer operation data as int64 across a
// store/load round trip, and Canonical keeps encodings deterministic.
var cborHandle = func() *codec.CborHandle {
	h := new(codec.CborHandle)
	h.Canonical = true
	h.SignedInteger = true
	h.MapType = mapStrIntfTyp
	h.TimeRFC3339 = true
	return h
}()

// Marshal encodes v as CBOR.
func Marshal(v any) ([]byte, error) {
	var out []byte
	enc := codec.NewEncoderBytes(&out, cborHandle)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return out, nil
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	dec := codec.NewDecoderBytes(data, cborHandle)
	return dec.Decode(v)
}
