// Package memory provides typed object reuse for the order arena.
//
// A Recycler hands out objects from a Pool and parks released ones in a
// RetireRing until the owner reaches a quiescent point (the end of an
// elapse step) and calls Reclaim. Objects handed to observers during a
// step therefore stay untouched until the step is over.
package memory
