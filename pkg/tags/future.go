package tags

import (
	"context"
	"errors"
	"sync"

	"github.com/lightforgemedia/go-leapmq/pkg/model"
)

// ErrPending is returned by Result before the future completes.
var ErrPending = errors.New("tags: future still pending")

// Future is the completion handle of a pending request. It is completed
// exactly once, either with a message or with an error.
type Future struct {
	tag  string
	done chan struct{}
	once sync.Once
	msg  *model.Message
	err  error
}

func newFuture(tag string) *Future {
	return &Future{tag: tag, done: make(chan struct{})}
}

// Tag returns the correlation tag the future waits on.
func (f *Future) Tag() string { return f.tag }

// Done is closed once the future is completed.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until completion or until ctx ends. On ctx expiry the
// future stays pending; the caller decides whether to unregister the tag.
func (f *Future) Wait(ctx context.Context) (*model.Message, error) {
	select {
	case <-f.done:
		return f.msg, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the outcome without blocking, or ErrPending.
func (f *Future) Result() (*model.Message, error) {
	select {
	case <-f.done:
		return f.msg, f.err
	default:
		return nil, ErrPending
	}
}

func (f *Future) resolve(msg *model.Message) bool {
	return f.complete(msg, nil)
}

func (f *Future) fail(err error) bool {
	return f.complete(nil, err)
}

func (f *Future) complete(msg *model.Message, err error) bool {
	completed := false
	f.once.Do(func() {
		f.msg, f.err = msg, err
		close(f.done)
		completed = true
	})
	return completed
}
