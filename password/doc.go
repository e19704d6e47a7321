// Package password implements credential hashing and verification with a bcrypt default.
//
// # Output format
//
// bcrypt hashes use the modular crypt format ($2a$<cost>$<salt+hash>). Argon2id hashes
// are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Hasher] recognizes both formats on verify regardless of the configured algorithm.
// [Hasher.NeedsUpgrade] reports hashes produced by the other algorithm or by weaker
// parameters so the caller can re-hash on the next successful login.
//
// # Architecture boundaries
//
// This package owns hashing, verification and the strength [Policy]. Deciding when to
// check the policy and how to report violations belongs to the engine.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords. Callers supply plaintext and receive hashes.
//   - Import any other authcore package.
//   - Log plaintext passwords or hash parameters at runtime.
package password
