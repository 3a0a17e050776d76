package common

// Keys under which the client persists its state in the key/value store.
const (
	RegistrationsKey = "fleetsync.registrations"
	BackupHistoryKey = "fleetsync.backups"
)

// IdempotencyKeyHeaderName carries the logical identity of a pushed record so
// the server can recognise a replayed create.
const IdempotencyKeyHeaderName = "Idempotency-Key"

// AuthorizationHeaderName is the HTTP header used to carry the bearer token on
// outbound requests.
const AuthorizationHeaderName = "Authorization"
