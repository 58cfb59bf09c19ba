package pool

import (
	"context"
	"runtime"
	"sync"
	"time"
	"weak"

	"go.uber.org/zap"
)

// State is the checkout state of an Object.
type State int

const (
	// StateWaiting means no slot has been acquired yet.
	StateWaiting State = iota
	// StateReceiving means a slot is held and no session chosen yet.
	StateReceiving
	// StateCreating means a new session is being established.
	StateCreating
	// StateRecycling means an idle session is being validated.
	StateRecycling
	// StateReady means the Object is usable.
	StateReady
	// StateTaken means the Client was detached with Pool.Take.
	StateTaken
	// StateDropped means every resource was returned.
	StateDropped
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateReceiving:
		return "receiving"
	case StateCreating:
		return "creating"
	case StateRecycling:
		return "recycling"
	case StateReady:
		return "ready"
	case StateTaken:
		return "taken"
	case StateDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Object is a checked-out Client. It holds one slot of its pool until
// Release, which returns the Client to the idle queue when it is still
// reusable. Methods of the Client are available directly on the Object.
type Object struct {
	*Client

	co      *checkout
	cleanup runtime.Cleanup
}

// checkout is the state shared between an Object and its leak cleanup.
type checkout struct {
	mu     sync.Mutex
	state  State
	client *Client
	pool   weak.Pointer[Pool]
}

func newObject(p *Pool) *Object {
	return &Object{co: &checkout{state: StateWaiting, pool: weak.Make(p)}}
}

// State returns the checkout state.
func (o *Object) State() State {
	o.co.mu.Lock()
	defer o.co.mu.Unlock()
	return o.co.state
}

// Release returns the slot and, when still valid, the Client. It is safe to
// call more than once. The Object must not be used afterwards.
func (o *Object) Release() {
	o.cleanup.Stop()
	o.co.release(false)
	o.Client = nil
}

func (co *checkout) set(state State, client *Client) {
	co.mu.Lock()
	co.state = state
	co.client = client
	co.mu.Unlock()
}

// ready publishes the Client and arms the leak cleanup.
func (o *Object) ready(client *Client) {
	o.co.set(StateReady, client)
	o.Client = client
	o.cleanup = runtime.AddCleanup(o, func(co *checkout) { co.release(true) }, o.co)
}

// take detaches the Client, leaving the slot to be returned by release.
func (o *Object) take() *Client {
	o.co.mu.Lock()
	defer o.co.mu.Unlock()
	if o.co.state != StateReady {
		return nil
	}
	client := o.co.client
	o.co.state = StateTaken
	o.co.client = nil
	return client
}

func (co *checkout) release(leaked bool) {
	co.mu.Lock()
	state, client := co.state, co.client
	co.state, co.client = StateDropped, nil
	co.mu.Unlock()

	p := co.pool.Value()
	switch state {
	case StateWaiting, StateDropped:
		return
	case StateReceiving, StateCreating, StateTaken:
		if p != nil {
			p.slots.release()
		}
	case StateRecycling, StateReady:
		if p == nil {
			if client != nil {
				closeClient(client)
			}
			return
		}
		if client != nil {
			p.requeue(client)
		}
		p.slots.release()
	}

	if p != nil {
		p.metrics.InUse.Set(float64(p.slots.held()))
		if leaked {
			p.logger.Warn("checkout was garbage collected without Release",
				zap.Stringer("state", state))
		}
	}
}

func closeClient(c *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = c.Close(ctx)
}
