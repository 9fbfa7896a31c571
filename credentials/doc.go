// Package credentials keeps the table of registered identities and checks
// plain text passwords against it.
//
// Passwords are never stored, only a salted hash produced by one of the
// Hasher implementations (bcrypt by default, argon2id as an alternative).
// The scheme is recorded in the hash itself, so changing the configured
// hasher does not lock out users registered with the previous one.
//
// Verify never tells callers why a login failed. Unknown usernames and
// wrong passwords both return ErrInvalidCredentials, and unknown usernames
// still pay for one hash comparison so response times do not give the
// answer away either.
//
// Identities are referenced from sessions by their ID (a ULID), which is
// what Serialize returns and Deserialize accepts.
package credentials
