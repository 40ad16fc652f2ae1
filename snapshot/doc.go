// Package snapshot captures a broker's book into a structured document and
// rebuilds a book from one.
//
// The document is a protobuf Struct. Every int64 travels as a decimal string
// because timestamps do not fit a float64 mantissa.
//
// Snapshots are kept in a pebble store keyed by instrument and timestamp.
package snapshot
