// Package service orchestrates the simulator: one Broker per instrument,
// each owning its market depth, replay cursor and user orders, behind an
// Exchange that serialises the command surface.
//
// It is decoupled from any network transport.
package service
