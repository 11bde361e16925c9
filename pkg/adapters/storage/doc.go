// Package storage groups run state repository implementations.
//
// Implementations:
//   - sqlite: durable, transactional, conditional updates enforced in SQL
//   - memory: in-memory for tests and ephemeral deployments
package storage
