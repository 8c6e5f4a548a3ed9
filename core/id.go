package core

import (
	"github.com/google/uuid"
	"pkt.systems/shellkeep/schema"
)

func newClientID() schema.ClientID {
	return schema.ClientID(uuid.NewString())
}
