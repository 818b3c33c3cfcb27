package chatsync

import (
	"encoding/hex"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/tOgg1/opsdesk/internal/models"
)

// ProvisionalIDs hands out client ids for optimistic sends. Ids are unique
// per session and never derived from the wall clock, so two sends in the
// same tick cannot collide.
type ProvisionalIDs struct {
	prefix  string
	counter atomic.Uint64
}

// NewProvisionalIDs seeds the session prefix from a random uuid.
func NewProvisionalIDs() *ProvisionalIDs {
	u := uuid.New()
	return &ProvisionalIDs{prefix: models.ProvisionalPrefix + hex.EncodeToString(u[:4]) + "-"}
}

// Next returns the next id, e.g. "tmp-1a2b3c4d-7".
func (p *ProvisionalIDs) Next() models.MessageID {
	n := p.counter.Add(1)
	return models.MessageID(p.prefix + strconv.FormatUint(n, 10))
}
