// Package password hashes and verifies account passwords with Argon2id.
//
// Hashes use the PHC string layout
// ($argon2id$v=19$m=<KiB>,t=<iter>,p=<lanes>$<salt>$<key>) and are treated as
// untrusted input on Verify: parameters far above the configured cost are
// rejected before any work is done.
package password
