/*
Package ports defines the driven ports (interfaces) of the remodel client.

These interfaces decouple the client transaction from the remote model store,
allowing the same client to talk to an in-process store, Redis, SQLite or a
store served over HTTP.

# Key Interfaces

  - Backend: one repository of a remote model store (registry, queries, commit).
  - Dialer: opens a Backend for a (url, repository) pair.
  - DistributedLocker: provides distributed locking for commit serialization.

RunBackendContract is a reusable suite that every Backend adapter runs in its tests.
*/
package ports
