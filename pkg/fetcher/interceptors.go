package fetcher

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// Ordering bounds for interceptors. Lower orders run first.
const (
	OrderFirst   = math.MinInt32
	OrderDefault = 0
	OrderLast    = math.MaxInt32
)

// Interceptor is a named, ordered step of a phase chain.
type Interceptor interface {
	Name() string
	Order() int
	Intercept(ctx context.Context, exchange *Exchange) error
}

// InterceptorFunc is the behavior of an interceptor built with NewInterceptor.
type InterceptorFunc func(ctx context.Context, exchange *Exchange) error

type funcInterceptor struct {
	name  string
	order int
	fn    InterceptorFunc
}

func (i *funcInterceptor) Name() string { return i.name }
func (i *funcInterceptor) Order() int   { return i.order }

func (i *funcInterceptor) Intercept(ctx context.Context, exchange *Exchange) error {
	return i.fn(ctx, exchange)
}

// NewInterceptor builds an interceptor from a function.
func NewInterceptor(name string, order int, fn InterceptorFunc) Interceptor {
	return &funcInterceptor{name: name, order: order, fn: fn}
}

// Phase identifies where in the exchange a chain runs.
type Phase int

// Exchange phases.
const (
	PhaseRequest Phase = iota
	PhaseResponse
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseRequest:
		return "request"
	case PhaseResponse:
		return "response"
	case PhaseError:
		return "error"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

type chainEntry struct {
	interceptor Interceptor
	seq         uint64
}

// InterceptorChain is an ordered, name-unique list of interceptors for one phase.
type InterceptorChain struct {
	phase   Phase
	mu      sync.RWMutex
	entries []chainEntry
	seq     uint64
}

// NewInterceptorChain creates an empty chain for phase.
func NewInterceptorChain(phase Phase) *InterceptorChain {
	return &InterceptorChain{phase: phase}
}

// Phase returns the phase the chain runs in.
func (c *InterceptorChain) Phase() Phase {
	return c.phase
}

// Use registers interceptor and returns a handle that removes it again.
func (c *InterceptorChain) Use(interceptor Interceptor) (func(), error) {
	name := interceptor.Name()
	if name == "" {
		return nil, ErrInterceptorName
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.entries {
		if e.interceptor.Name() == name {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateInterceptor, name)
		}
	}

	c.seq++
	seq := c.seq
	c.entries = append(c.entries, chainEntry{interceptor: interceptor, seq: seq})
	// Stable sort keeps registration order for equal orders.
	sort.SliceStable(c.entries, func(i, j int) bool {
		return c.entries[i].interceptor.Order() < c.entries[j].interceptor.Order()
	})

	return func() { c.remove(seq) }, nil
}

// MustUse registers interceptor and panics on a duplicate name.
func (c *InterceptorChain) MustUse(interceptor Interceptor) {
	if _, err := c.Use(interceptor); err != nil {
		panic(err)
	}
}

func (c *InterceptorChain) remove(seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, e := range c.entries {
		if e.seq == seq {
			c.entries = append(c.entries[:i:i], c.entries[i+1:]...)

			return
		}
	}
}

// Eject removes the interceptor named name and reports whether it was present.
func (c *InterceptorChain) Eject(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, e := range c.entries {
		if e.interceptor.Name() == name {
			c.entries = append(c.entries[:i:i], c.entries[i+1:]...)

			return true
		}
	}

	return false
}

// Clear removes every interceptor.
func (c *InterceptorChain) Clear() {
	c.mu.Lock()
	c.entries = nil
	c.mu.Unlock()
}

// Len returns the number of registered interceptors.
func (c *InterceptorChain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// Interceptors returns the registered interceptors in execution order.
func (c *InterceptorChain) Interceptors() []Interceptor {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Interceptor, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.interceptor
	}

	return out
}

// Names returns the registered names in execution order.
func (c *InterceptorChain) Names() []string {
	interceptors := c.Interceptors()

	names := make([]string, len(interceptors))
	for i, interceptor := range interceptors {
		names[i] = interceptor.Name()
	}

	return names
}

// Intercept runs the chain over exchange.
//
// Request and response chains stop at the first error and return it. The error
// chain runs every interceptor with the current exchange error; a returned
// error replaces it. When an interceptor leaves a response and no error, the
// exchange is recovered and the remaining interceptors are skipped. For the
// error chain the returned value is the exchange error after the chain.
func (c *InterceptorChain) Intercept(ctx context.Context, exchange *Exchange) error {
	interceptors := c.Interceptors()

	if c.phase != PhaseError {
		for _, interceptor := range interceptors {
			if err := interceptor.Intercept(ctx, exchange); err != nil {
				return err
			}
		}

		return nil
	}

	for _, interceptor := range interceptors {
		if err := interceptor.Intercept(ctx, exchange); err != nil {
			exchange.Error = err
		}

		if exchange.Error == nil && exchange.Response != nil {
			return nil
		}
	}

	return exchange.Error
}

// CompletionHook observes an exchange once every chain has run. Error is nil
// for a successful or recovered exchange.
type CompletionHook func(ctx context.Context, exchange *Exchange)

// InterceptorManager holds the three phase chains of a fetcher and the hooks
// that observe settled exchanges.
type InterceptorManager struct {
	Request  *InterceptorChain
	Response *InterceptorChain
	Error    *InterceptorChain

	mu       sync.RWMutex
	hooks    map[uint64]CompletionHook
	hookSeq  uint64
	hookKeys []uint64
}

// NewInterceptorManager creates a manager with empty chains.
func NewInterceptorManager() *InterceptorManager {
	return &InterceptorManager{
		Request:  NewInterceptorChain(PhaseRequest),
		Response: NewInterceptorChain(PhaseResponse),
		Error:    NewInterceptorChain(PhaseError),
		hooks:    make(map[uint64]CompletionHook),
	}
}

// OnComplete registers hook and returns a function that removes it. Hooks run
// in registration order.
func (m *InterceptorManager) OnComplete(hook CompletionHook) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.hooks == nil {
		m.hooks = make(map[uint64]CompletionHook)
	}

	m.hookSeq++
	key := m.hookSeq
	m.hooks[key] = hook
	m.hookKeys = append(m.hookKeys, key)

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		if _, ok := m.hooks[key]; !ok {
			return
		}

		delete(m.hooks, key)

		for i, k := range m.hookKeys {
			if k == key {
				m.hookKeys = append(m.hookKeys[:i], m.hookKeys[i+1:]...)

				break
			}
		}
	}
}

// Complete runs the completion hooks over exchange.
func (m *InterceptorManager) Complete(ctx context.Context, exchange *Exchange) {
	m.mu.RLock()
	hooks := make([]CompletionHook, 0, len(m.hookKeys))

	for _, key := range m.hookKeys {
		hooks = append(hooks, m.hooks[key])
	}
	m.mu.RUnlock()

	for _, hook := range hooks {
		hook(ctx, exchange)
	}
}

// Chain returns the chain for phase.
func (m *InterceptorManager) Chain(phase Phase) *InterceptorChain {
	switch phase {
	case PhaseResponse:
		return m.Response
	case PhaseError:
		return m.Error
	default:
		return m.Request
	}
}
