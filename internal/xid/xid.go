package xid

import (
	"fmt"

	"github.com/google/uuid"
)

// New returns a prefixed record id such as "sale-5f0c…". Ids sort by
// creation time because UUIDv7 carries a millisecond timestamp prefix.
func New(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
	}
	return fmt.Sprintf("%s-%s", prefix, id.String())
}
