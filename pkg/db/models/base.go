package models

import "github.com/google/uuid"

// ensureID assigns a random id when the caller did not pick one. Postgres
// defaults are not relied on so that sqlite-backed tests share the same path.
func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}
