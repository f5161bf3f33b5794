// Package password is relay's credential hasher.
//
// Hashes are Argon2id in the PHC string format
// ($argon2id$v=19$m=...,t=...,p=...$salt$key). Stored hashes are treated as
// untrusted during Verify: parameters far above the configured cost are
// rejected instead of being computed.
package password
