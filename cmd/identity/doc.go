// Package identity owns hub accounts: users, roles and their password
// credentials.
//
// Stores come in two flavors. PostgresStore (pgx) backs real deployments;
// MemoryStore serves dev mode and tests. Service layers password policy
// and argon2id verification on top of either.
package identity
