// Package repository defines the persistence interfaces for diskmesh.
//
// The Store interface groups everything the registry, reconciler and engine
// persist: network rows and their membership, drive slots, disks, peripherals
// and the item ledger that is the authoritative source for disk usage.
//
// # Transactions
//
// InTx runs a function against a Store bound to a single transaction. Calls
// made on the bound Store inside the function join that transaction; nested
// InTx calls on it do not open a new one. Registry operations use exactly
// one InTx per call so a failure never leaves slots pointing at a network
// whose membership rows were not written.
//
// # SQLite Implementation
//
// The sqlite subpackage implements Store on modernc.org/sqlite with the
// schema managed by golang-migrate from embedded migration files.
package repository
