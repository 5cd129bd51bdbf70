package stock

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// encMode uses Core Deterministic Encoding so the same sheet always
// produces the same bytes.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("stock: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("stock: CBOR decoder initialization failed: " + err.Error())
	}
}

// EncodeSnapshot encodes a sheet as deterministic CBOR.
func EncodeSnapshot(cs Counters) ([]byte, error) {
	if cs == nil {
		cs = Counters{}
	}
	data, err := encMode.Marshal(cs)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot decodes a sheet written by EncodeSnapshot.
func DecodeSnapshot(data []byte) (Counters, error) {
	cs := Counters{}
	if err := decMode.Unmarshal(data, &cs); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return cs, nil
}
