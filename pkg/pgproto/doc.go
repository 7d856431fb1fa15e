/*
Package pgproto implements the PostgreSQL frontend/backend wire protocol,
version 3: message framing, the startup/SSL/cancel packets, the backend
message catalog, and the authentication primitives (MD5 and SCRAM-SHA-256)
Vanguard needs to speak both roles of — server to the frontend, client to
each backend.

# Framing

ReadMessage/WriteMessage handle the common `[type:1][length:4][body]` shape
used by every message after the connection is established.
ReadStartupMessage/WriteStartupMessage/WriteSSLRequest handle the one
untagged packet that opens a connection.

# Authentication

HashMD5Password implements the PostgreSQL-specific MD5 password hash.
ScramServerHandshake and ScramClientHandshake implement RFC 5802's
SCRAM-SHA-256 exchange from the server and client side respectively, backed
by golang.org/x/crypto/pbkdf2 for the underlying key derivation.

# Errors

Error is the single error type this package and pkg/backend return,
carrying a closed Kind so callers can branch with errors.As.
*/
package pgproto
