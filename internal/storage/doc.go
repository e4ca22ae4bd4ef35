// Package storage provides the encrypted key-value primitive the license
// engine persists its lease record through.
//
// A Backend stores opaque bytes by key: FileBackend writes one file per key,
// BoltBackend keeps all keys in a single bolt database, MemoryBackend lives in
// process memory. EncryptedStore layers a Sealer over any Backend so every
// value is encrypted at rest; a value that fails to decrypt is reported as
// ErrUndecryptable rather than returned.
package storage
