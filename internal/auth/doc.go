// Package auth provides user accounts and token-based authentication.
//
// Passwords are hashed with Argon2id and stored in PHC string format.
// API access uses short-lived HS256 JWT access tokens validated by
// signature only. Devices never authenticate through this package; the
// device link trusts the serial presented on the poll/ack path.
package auth
