// Package codec encodes state-tree leaf values for durable storage.
//
// Leaves are CBOR rather than JSON so that integers written as int64 come back
// as int64 (JSON would hand them back as float64) and booleans and strings keep
// their type without a side channel.
package codec

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		IntDec:         cbor.IntDecConvertSigned,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// EncodeLeaf encodes a scalar tree value.  Maps and slices are rejected: the
// state tree stores one row per leaf.
func EncodeLeaf(v any) ([]byte, error) {
	switch v.(type) {
	case string, bool, int64, float64:
	default:
		return nil, fmt.Errorf("codec: unsupported leaf type %T", v)
	}
	return encMode.Marshal(v)
}

// DecodeLeaf decodes a value written by EncodeLeaf.
func DecodeLeaf(data []byte) (any, error) {
	var v any
	if err := decMode.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
