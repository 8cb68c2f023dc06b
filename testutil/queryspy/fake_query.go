package queryspy

import (
	"context"
	"fmt"
	"sync"

	"github.com/querystream/query-change-streams-go/querystream"
)

// FakeQuery is a querystream.Query implementation that captures all
// collaborator interactions for testing.
//
// Listeners are invoked sequentially in registration order, outside the
// internal lock, so a listener blocking on a full stream buffer cannot
// deadlock concurrent FakeQuery calls.
type FakeQuery struct {
	mu             sync.Mutex
	listeners      map[querystream.ListenerToken]querystream.ChangeListener
	order          []querystream.ListenerToken
	nextToken      int
	executeErr     error
	addListenerErr error
	initialRows    querystream.Rows
	hasInitialRows bool
	executeCalls   int
	removeCalls    map[querystream.ListenerToken]int
	callSequence   []string
}

// NewFakeQuery creates a new FakeQuery.
func NewFakeQuery() *FakeQuery {
	return &FakeQuery{
		listeners:   make(map[querystream.ListenerToken]querystream.ChangeListener),
		removeCalls: make(map[querystream.ListenerToken]int),
	}
}

// FailExecuteWith scripts Execute to return the given error.
func (q *FakeQuery) FailExecuteWith(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.executeErr = err
}

// FailAddListenerWith scripts AddChangeListener to return the given error.
func (q *FakeQuery) FailAddListenerWith(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.addListenerErr = err
}

// ScriptInitialResults makes Execute dispatch the given rows as the initial
// change notification, like a real engine does.
func (q *FakeQuery) ScriptInitialResults(rows ...querystream.Row) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.initialRows = rows
	q.hasInitialRows = true
}

// Execute implements querystream.Query.
func (q *FakeQuery) Execute(_ context.Context) error {
	q.mu.Lock()
	q.executeCalls++
	q.callSequence = append(q.callSequence, "execute")
	executeErr := q.executeErr
	dispatchInitial := q.hasInitialRows && executeErr == nil
	initialRows := q.initialRows
	q.mu.Unlock()

	if executeErr != nil {
		return executeErr
	}

	if dispatchInitial {
		q.dispatch(func() querystream.QueryChange {
			return querystream.BuildQueryChange(querystream.ResultSetOf(initialRows...))
		})
	}

	return nil
}

// AddChangeListener implements querystream.Query.
func (q *FakeQuery) AddChangeListener(listener querystream.ChangeListener) (querystream.ListenerToken, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.callSequence = append(q.callSequence, "add_listener")

	if q.addListenerErr != nil {
		return "", q.addListenerErr
	}

	q.nextToken++
	token := fmt.Sprintf("listener-%d", q.nextToken)

	q.listeners[token] = listener
	q.order = append(q.order, token)

	return token, nil
}

// RemoveChangeListener implements querystream.Query. Removing an unknown
// token is a no-op.
func (q *FakeQuery) RemoveChangeListener(token querystream.ListenerToken) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.callSequence = append(q.callSequence, "remove_listener")
	q.removeCalls[token]++

	if _, registered := q.listeners[token]; !registered {
		return nil
	}

	delete(q.listeners, token)

	for i, t := range q.order {
		if t == token {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}

	return nil
}

// EmitResults dispatches a successful change carrying the given rows to all
// registered listeners. Every listener receives its own ResultSet view.
func (q *FakeQuery) EmitResults(rows ...querystream.Row) {
	q.dispatch(func() querystream.QueryChange {
		return querystream.BuildQueryChange(querystream.ResultSetOf(rows...))
	})
}

// EmitError dispatches a failed change carrying the given error to all
// registered listeners.
func (q *FakeQuery) EmitError(err error) {
	q.dispatch(func() querystream.QueryChange {
		return querystream.BuildQueryChangeWithError(err)
	})
}

// EmitChange dispatches the given change as-is to all registered listeners.
// Useful for malformed notifications carrying neither results nor an error.
func (q *FakeQuery) EmitChange(change querystream.QueryChange) {
	q.dispatch(func() querystream.QueryChange {
		return change
	})
}

// dispatch invokes all current listeners sequentially in registration order,
// building a fresh change per listener. The listener snapshot is taken under
// the lock, the callbacks run outside it.
func (q *FakeQuery) dispatch(buildChange func() querystream.QueryChange) {
	q.mu.Lock()
	listeners := make([]querystream.ChangeListener, 0, len(q.order))
	for _, token := range q.order {
		listeners = append(listeners, q.listeners[token])
	}
	q.mu.Unlock()

	for _, listener := range listeners {
		listener(buildChange())
	}
}

// ListenerCount returns the number of currently registered listeners.
func (q *FakeQuery) ListenerCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.listeners)
}

// Tokens returns the currently registered tokens in registration order.
func (q *FakeQuery) Tokens() []querystream.ListenerToken {
	q.mu.Lock()
	defer q.mu.Unlock()

	return append([]querystream.ListenerToken(nil), q.order...)
}

// ExecuteCalls returns how often Execute was called.
func (q *FakeQuery) ExecuteCalls() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.executeCalls
}

// RemoveCallsFor returns how often RemoveChangeListener was called with the given token.
func (q *FakeQuery) RemoveCallsFor(token querystream.ListenerToken) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.removeCalls[token]
}

// TotalRemoveCalls returns how often RemoveChangeListener was called in total.
func (q *FakeQuery) TotalRemoveCalls() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	total := 0
	for _, count := range q.removeCalls {
		total += count
	}

	return total
}

// CallSequence returns the order of collaborator calls, e.g.
// ["add_listener", "execute", "remove_listener"].
func (q *FakeQuery) CallSequence() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	return append([]string(nil), q.callSequence...)
}

// Compile-time check to ensure FakeQuery implements the Query interface.
var _ querystream.Query = (*FakeQuery)(nil)
