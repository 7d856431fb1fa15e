/*
Package adminclient is a Go client for the admin HTTP API in pkg/api
(spec §5): one method per endpoint, each taking a context and returning
a decoded response or an error built from the server's {error, message}
body. It replaces the teacher's gRPC-over-mTLS client with a plain
net/http + encoding/json client matching the new JSON-over-HTTP
surface — there is no certificate enrollment step here, only a bearer
token obtained from Login or supplied directly via WithToken.
*/
package adminclient
