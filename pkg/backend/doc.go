/*
Package backend implements the backend slot from spec §4.2: a single
connection from Vanguard to one PostgreSQL backend, covering the startup
packet, the trust/cleartext/MD5/SCRAM-SHA-256 authentication handshake, and
the send/recv/parameter-status-tracking contract used by pkg/pool and
pkg/session above it.

Open performs the handshake end to end and classifies any failure into a
*pgproto.Error with one of the closed Kind values (connect_refused,
auth_failed, protocol_mismatch, io, timeout) so callers never need to
string-match an error message.
*/
package backend
