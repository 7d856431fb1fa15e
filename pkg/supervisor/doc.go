// Package supervisor implements the frontend listener and connection
// handshake from spec §4.1/4.4. It owns the fixed set of per-worker-slot
// pool.Cache instances (spec §5: pools are never shared across session
// workers) and assigns each accepted connection to one by round robin,
// so that backend connections opened by one frontend session remain
// pooled for reuse by whichever later session lands on the same slot.
// Authentication is delegated to an Authenticator: TrustAuthenticator
// admits without a password exchange, and CredentialAuthenticator
// (authenticator.go) challenges with MD5 or SCRAM against a
// security.CredentialStore.
package supervisor
