// Package upload implements the wire protocol spoken by experiment clients
// when they push result files to the data server.
//
// A connection carries exactly one submission:
//
//	client -> server  32 bytes   filename, terminated or padded with '*'
//	repeat SlotsPerUpload times:
//	client -> server  16 bytes   ASCII decimal length + "END" + first payload bytes
//	client -> server  N bytes    payload, optionally ending in "!DONE!"
//	server -> client  ack        free-form acknowledgement, then close
//
// Any framing error aborts the connection without an acknowledgement.
package upload

// SlotsPerUpload is the number of size+payload transfers in one submission.
// It is a protocol constant: no header carries it.
const SlotsPerUpload = 2
