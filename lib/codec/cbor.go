// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"github.com/fxamacker/cbor/v2"
)

// encMode is the deterministic CBOR encoder. Same logical data always
// produces identical bytes.
var encMode cbor.EncMode

// decMode rejects duplicate map keys and caps nesting and array sizes
// so a corrupt table of contents cannot trigger huge allocations.
// Unknown fields are ignored for forward compatibility.
var decMode cbor.DecMode

// MaxArrayElements bounds the number of entries a decoded array may
// hold. Archive tables of contents are the largest arrays decoded.
const MaxArrayElements = 1 << 20

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		MaxNestedLevels:  16,
		MaxArrayElements: MaxArrayElements,
		MaxMapPairs:      MaxArrayElements,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Valid reports whether data holds exactly one well-formed CBOR item.
func Valid(data []byte) error {
	return decMode.Wellformed(data)
}
