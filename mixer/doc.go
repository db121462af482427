// Package mixer implements the real-time mixing engine.
//
// At construction the Engine registers the audio ports of every channel:
//
//	mono channel X      "X M"
//	stereo channel X    "X L", "X R"
//	input channel X     also an input-monitor output "X Out" of the same width
//	monitor bus         stereo output "Monitor"
//
// Every configuration snapshot published by the state store is compiled into
// an immutable plan: an ordered list of routes, each carrying its source and
// destination channel with precomputed gain and balance factors. Process loads
// the current plan with a single atomic read, zeroes every output buffer and
// accumulates the routes in order: input monitors, then buses, then the
// monitor bus. It takes no locks, allocates nothing and never logs.
package mixer
