// Package internal holds helpers that are private to authcore.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - ids: principal, role and token identifier generation
//   - notify: bounded worker pool for out-of-band token delivery
//   - rate: fixed-window login throttling on Redis or in process memory
//
// # What this package must NOT do
//
//   - Export types that appear in the public authcore API.
//   - Be imported by any package outside the authcore module.
package internal
