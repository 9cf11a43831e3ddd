/*
Package storage persists Nightcall state behind a small key/value
abstraction. Services register named stores and read or mutate them
inside View and Update transactions.

Values are whole serialized objects. Changing one field means reading
the object, mutating it and writing it back; alerts are small and
acknowledgements rare relative to reads, so the round trip is not worth
optimizing away.

The daemon runs on a BoltDB backend. Tests use the in-memory backend,
which implements the same transactional interface.
*/
package storage
