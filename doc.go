// Package jamyx implements an audio patchbay and mixer daemon on top of an
// audio graph server.
//
// A Jamyx instance owns four cooperating parts that share one configuration
// store:
//
//   - the connection reconciler keeps the live port graph equal to the desired
//     connection graph, retrying rejected connects and resynchronizing after a
//     server restart;
//   - the mixing engine composes input channels into output buses, input
//     monitors and a monitor bus once per audio block;
//   - the command dispatcher serves the line-delimited JSON control protocol
//     over TCP and WebSocket;
//   - one-shot notification hooks push channel changes to monitoring clients.
//
// # Getting Started
//
// Load a configuration, attach an audio client and run until cancelled:
//
//	cfg, err := config.Load("config.json")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	client := memgraph.New("jamyx")
//	j, err := jamyx.New(cfg, client, jamyx.NewOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := j.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Control Protocol
//
// Each TCP connection carries one request and receives one reply:
//
//	{"target": "mixer", "cmd": "set", "opts": ["volume", "in", "Mic", "80"]}
//	{"ret": 0, "msg": "set volume of input `Mic`", "obj": {...}}
//
// Targets are "mixer" (alias "myx"), "connection-kit" ("con") and "broadcast"
// ("all"), which the mixer serves. A "monitor" request keeps its connection
// open until the watched property changes.
//
// # Port Naming
//
// Mono channels register one port suffixed " M", stereo channels " L" and
// " R". Every input channel X also gets an output "X Out" carrying the input
// after its volume and balance, and the stereo "Monitor" bus plays whichever
// channel is selected for monitoring.
//
// # Observability
//
// Logging uses logrus with a "function" field on every entry. Prometheus
// metrics are served at /metrics on the HTTP address next to the /ws
// WebSocket endpoint.
package jamyx
