package index

import "github.com/fxamacker/cbor/v2"

// Canonical CBOR so an unchanged stage always serializes to the same bytes.
var encOptions = cbor.EncOptions{
	// 1. Sorted map keys
	Sort: cbor.SortCanonical,

	// 2. Times as Unix integers, no RFC 3339 tags
	Time:    cbor.TimeUnix,
	TimeTag: cbor.EncTagNone,

	// 3. Definite lengths only
	IndefLength: cbor.IndefLengthForbidden,
}

var em, _ = encOptions.EncMode()

var decOptions = cbor.DecOptions{
	// Bound container sizes so a corrupted file cannot exhaust memory
	MaxArrayElements: 1 << 20,
	MaxMapPairs:      1 << 20,
	MaxNestedLevels:  16,

	IndefLength: cbor.IndefLengthForbidden,
	DupMapKey:   cbor.DupMapKeyEnforcedAPF,
}

var dm, _ = decOptions.DecMode()
