// Package normalize converts loosely-shaped upstream records into the
// canonical internal record type.
//
// Upstream payloads arrive with inconsistent field casing and legacy field
// names. This package is the single boundary where that is resolved: each
// canonical field has an ordered alias list and the first present value
// wins. Nothing downstream of the normalizer handles raw key/value maps.
package normalize
