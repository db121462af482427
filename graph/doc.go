// Package graph provides the connection graph shared by the patchbay and the
// mixer.
//
// A [Graph] maps an output name to the set of input names it feeds. The same
// type describes two distinct things in jamyx: the desired port-to-port wiring
// that the reconciler drives the audio server towards, and the bus wiring of
// the mixer (output bus to input channel). Both directions can be queried in
// O(degree):
//
//	var g graph.Graph
//	g.Connect(true, "system:capture_1", "Mic M")
//	g.IsConnected("system:capture_1", "Mic M") // true
//	g.Outputs("Mic M")                        // ["system:capture_1"]
//
// An output whose input set becomes empty is removed from the graph, so the
// graph never carries empty edges.
package graph
