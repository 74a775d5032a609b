// Package mutate implements the mutation executor (spec.md §4.6): a single
// cooperative tail chain serializes every mutating command across the
// process, so submissions resolve strictly FIFO regardless of scheduling.
// Readonly queries never touch this package.
package mutate

import (
	"sync"

	"github.com/codeready-toolchain/mucp/pkg/envelope"
)

// Handler runs one mutating command's domain effect. It returns the
// command's result payload and, on failure, an error_code string alongside
// a non-nil error. commandID is passed through so the handler can append
// its own domain.mutating journal entry (spec.md §4.6) correlated to the
// command that is about to be marked completed.
type Handler func(commandID string, key string, args []string, in *envelope.Inbound) (any, string, error)

// Executor serializes Submit calls via a tail chain: each submission
// attaches its work to the tail of a promise/future-equivalent (here, a
// channel-based continuation) that resolves strictly FIFO.
type Executor struct {
	handler Handler

	mu   sync.Mutex
	tail chan struct{} // closed once the previous submission has run
}

// NewExecutor binds an Executor to the handler that performs the actual
// domain mutation (issue tracker write, repo checkout, etc.).
func NewExecutor(handler Handler) *Executor {
	e := &Executor{handler: handler}
	e.tail = closedChan()
	return e
}

func closedChan() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}

// Submit attaches commandID's work to the tail of the chain and blocks
// until every submission ahead of it has completed, then runs handler and
// returns its result. Submit is safe to call concurrently; ordering is
// determined by the order in which callers successfully acquire the tail,
// not by the order commandID values were generated.
func (e *Executor) Submit(commandID string, key string, args []string, in *envelope.Inbound) (any, string, error) {
	e.mu.Lock()
	prev := e.tail
	next := make(chan struct{})
	e.tail = next
	e.mu.Unlock()

	<-prev
	defer close(next)

	return e.handler(commandID, key, args, in)
}
