// Package maas provides a client for the external bare-metal provisioning
// backend with error classification, retry, and request auditing.
//
// # Architecture
//
// The package is organized into focused modules:
//
//   - client.go: per-concern interfaces (MachineManager, PowerManager,
//     ImageManager) and the combined BackendManager
//   - types.go: wire types shared by poll responses and webhook pushes
//   - real_client.go: REST implementation with OAuth1 PLAINTEXT signing
//   - mock_client.go: func-field mock for tests
//   - errors.go: error taxonomy and HTTP status classification
//   - oauth.go: Authorization header construction
//
// # Error Taxonomy
//
// Every failure surfaces as *Error with one of four kinds: transient
// (timeouts, connection errors, 5xx), permanent (non-conflict 4xx),
// conflict (409/423 state preconditions), and auth (401/403). Only
// transient errors are retried, with exponential backoff (1s initial,
// factor 2, 5 retries). No component above this package classifies raw
// transport errors.
//
// # Auditing
//
// Each request is logged with a correlation id, the HTTP status, and the
// elapsed time. The client holds no business state and is safe for
// concurrent use.
package maas
