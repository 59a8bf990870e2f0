package token

import "sync"

// CondWait waits on c with cancellation support, following the
// register -> re-check predicate -> wait -> unregister pattern: the caller
// must already hold c.L and must re-check its own wait predicate after
// CondWait returns, since both a broadcast and a cancellation wake it the
// same way. Returns true if tok fired while waiting.
//
// The handler registered against tok only calls c.Broadcast(); it never
// touches caller state, so it is safe to invoke even after the waiter has
// moved on.
func CondWait(c *sync.Cond, tok Token) (cancelled bool) {
	unregister := tok.Register(func() { c.Broadcast() })
	defer unregister()

	if tok.IsCancelled() {
		return true
	}
	c.Wait()
	return tok.IsCancelled()
}
