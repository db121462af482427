// Package state holds the routing and mixer state shared by the reconciler,
// the mixing engine and the command dispatcher.
//
// # Snapshots
//
// [Store] keeps the configuration as an immutable [Snapshot] behind an atomic
// pointer. Writers serialize on a mutex, mutate a private copy and publish it;
// readers call Load and never block, which is what lets the audio callback read
// the mixer settings without contending with control threads:
//
//	snap, err := store.Update(func(cfg *config.Config) error {
//	    return cfg.Mixer.SetVolume(config.Input, "Mic", 42)
//	})
//
// A snapshot's configuration must never be modified.
//
// # Hooks
//
// [Hooks] is the registry of one-shot change subscriptions. A subscriber is a
// writable stream registered for an event [Category] and a channel name; the
// next Fire for that pair writes the payload to every subscriber, closes the
// streams and forgets them. Clients re-subscribe after each push.
package state
