package engine

import "encoding/json"

// JSONCodec encodes/decodes arbitrary Go values as JSON. It is the default
// codec for KV records, which may use any codec.
type JSONCodec struct{}

func (JSONCodec) Encode(v any) ([]byte, error) { return json.Marshal(v) }

func (JSONCodec) Decode(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// RawBytesCodec treats the value as already being []byte. It is the only
// codec file records use.
type RawBytesCodec struct{}

func (RawBytesCodec) Encode(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case nil:
		return nil, nil
	default:
		return nil, errNotBytes
	}
}

func (RawBytesCodec) Decode(data []byte) (any, error) {
	return data, nil
}

var errNotBytes = rawBytesCodecError("value is not []byte")

type rawBytesCodecError string

func (e rawBytesCodecError) Error() string { return string(e) }
