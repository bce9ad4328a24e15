package id

import (
	"crypto/rand"

	"github.com/oklog/ulid/v2"
)

// New returns a ULID string for a new account. ULIDs sort by creation time,
// which keeps the accounts table's hash keys evenly spread and human-orderable.
func New() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}
