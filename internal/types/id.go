// README: Opaque identifiers shared by orders, couriers and messages.
package types

import (
	"crypto/rand"
	"encoding/hex"
)

type ID string

func (id ID) String() string { return string(id) }

// NewID returns a 32-char hex identifier.
func NewID() ID {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return ID(hex.EncodeToString(b[:]))
}
