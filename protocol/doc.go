// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Implements the WebSocket wire protocol (RFC 6455) used by the chat stages.
//
// Includes:
//   - Streaming frame decoding over raw byte slices
//   - Fragmenting frame encoder with optional client-side masking
//   - Per-connection message assembler with opcode dispatch
//   - Opening handshake parsing, header policy and response building
package protocol
