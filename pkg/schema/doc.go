// Package schema types attribute values.
//
// An attribute feature may name a data type in its Type field:
//
//	- {name: height, kind: attribute, type: float}
//	- {name: tags, kind: attribute, type: "[string]"}
//
// Supported names are string, int, float and bool, plus lists written as
// "[elem]". Attributes without a type accept any value.
//
// Values read back from JSON backends arrive as float64 and []any, so an
// int attribute accepts whole floats and lists accept any slice whose
// elements check out.
package schema
