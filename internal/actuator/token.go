package actuator

import (
	"strconv"
	"sync/atomic"
)

var tokenSeq atomic.Uint64

// Token is an opaque cancellation token. Tokens are compared by identity:
// a deferred effect holding a token only runs if that exact token is still
// the current owner. The sequence number exists for logging only.
type Token struct {
	seq uint64
}

// NewToken mints a fresh token, distinct from every other token.
func NewToken() *Token {
	return &Token{seq: tokenSeq.Add(1)}
}

func (t *Token) String() string {
	if t == nil {
		return "none"
	}
	return "tok-" + strconv.FormatUint(t.seq, 10)
}
