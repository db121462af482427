// Package metrics exposes Prometheus collectors for the reconciler, the
// mixing engine and the command dispatcher.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests. Counters touched from the audio process
// callback carry no labels and never allocate.
package metrics
