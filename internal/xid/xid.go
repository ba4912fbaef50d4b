package xid

import (
	"fmt"

	"github.com/google/uuid"
)

// New returns a random identifier such as "order-3f2c...". uuid.NewRandom
// only fails when the system entropy source does, so a time-ordered v7 id is
// tried before giving up.
func New(prefix string) string {
	id, err := uuid.NewRandom()
	if err != nil {
		id = uuid.Must(uuid.NewV7())
	}
	if prefix == "" {
		return id.String()
	}
	return fmt.Sprintf("%s-%s", prefix, id.String())
}

// UUID returns a bare random UUID string for columns typed as uuid.
func UUID() string {
	return uuid.NewString()
}
