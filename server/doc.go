// Package server implements the command protocol and its dispatcher.
//
// A request is one JSON object {"target", "cmd", "opts"} read from a stream
// connection; the reply is one JSON line {"ret", "msg", "obj"}. After the
// reply the stream is closed, except for monitor requests, which hold the
// stream until the subscribed change happens and the notification is written
// in the same envelope.
//
// Requests are routed by target to one worker goroutine per subsystem, so
// commands against the same subsystem are serialized:
//
//	d := server.NewDispatcher(m)
//	d.Register("mixer", server.NewMixerHandler(store, hooks, m), "myx", "broadcast", "all")
//	d.Register("connection-kit", server.NewConnectionKitHandler(store, rec), "con")
//	d.Start(ctx)
//	srv, _ := server.ListenTCP("127.0.0.1:56065", d, m)
//
// The same envelope is served over WebSocket at /ws next to the Prometheus
// /metrics endpoint, one request per message.
package server
