// Package limits provides centralized size constants and validation functions
// for the jamyx command protocol and channel configuration. It keeps size
// enforcement consistent between the TCP server, the WebSocket bridge and the
// configuration loader.
//
// # Size Hierarchy
//
//   - MaxChannelName (256 bytes): The longest channel or port name accepted.
//     Audio servers bound the full port name, and jamyx appends a suffix
//     (" L", " R", " M", " Out") to every channel name it registers.
//
//   - MaxCommandFrame (64 KiB): The largest single command request. Requests
//     are small JSON objects; anything larger is treated as a protocol error.
//
//   - MaxCommandOpts (8): The most positional arguments a request may carry.
//
// # Validation Functions
//
//	if err := limits.ValidateCommandFrame(frame); err != nil {
//	    // ErrFrameEmpty or ErrFrameTooLarge
//	}
//
// For custom limits, use ValidateSize:
//
//	err := limits.ValidateSize(data, 4096)
package limits
