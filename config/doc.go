// Package config defines the jamyx configuration tree and the operations the
// command dispatcher performs on it.
//
// The tree is loaded once at startup from a JSON file (or YAML, chosen by file
// extension) and is then only mutated in place through copies published by
// package state. The top level carries the desired port-to-port wiring used by
// the reconciler and the embedded [MixerConfig]:
//
//	{
//	  "connections": {"system:capture_1": ["Jamyx:Mic M"]},
//	  "mixer": {
//	    "connections": {"Main": ["Mic"]},
//	    "outputs": {"Main": {"vol": 100}},
//	    "inputs": {"Mic": {"vol": 80, "balance": 0.2, "mono": true}},
//	    "monitor": {"channel": "Main", "is_input": false}
//	  }
//	}
//
// Volumes are percentages (default 100); [PortConfig.Volume] returns the linear
// multiplier the mixer uses. Balance is a signed value whose [PortConfig.BalancePair]
// gives independent left and right multipliers.
package config
