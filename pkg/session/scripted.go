package session

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Scripted is a deterministic in-memory Page for tests and development,
// playing the role the in-memory channel plays for the relay. Script results
// are queued per script text and consumed in order; the last queued value
// keeps repeating once the queue drains.
type Scripted struct {
	mu          sync.Mutex
	url         string
	results     map[string][]any
	evalErr     map[string]error
	nodes       map[string][]Node
	navErr      error
	navigations []string
	evaluated   []string
	closed      bool
}

func NewScripted() *Scripted {
	return &Scripted{
		results: make(map[string][]any),
		evalErr: make(map[string]error),
		nodes:   make(map[string][]Node),
	}
}

// StubResult queues the values Evaluate returns for script, in order.
func (s *Scripted) StubResult(script string, values ...any) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results[script] = append(s.results[script], values...)

	return s
}

// StubError makes Evaluate fail for script.
func (s *Scripted) StubError(script string, err error) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evalErr[script] = err

	return s
}

// StubNodes sets the elements QueryAll returns for selector.
func (s *Scripted) StubNodes(selector string, nodes ...Node) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nodes[selector] = nodes

	return s
}

// FailNavigation makes every Navigate call fail.
func (s *Scripted) FailNavigation(err error) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.navErr = err

	return s
}

func (s *Scripted) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.navErr != nil {
		return s.navErr
	}

	s.url = url
	s.navigations = append(s.navigations, url)

	return nil
}

func (s *Scripted) Evaluate(ctx context.Context, script string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.evaluated = append(s.evaluated, script)

	if err, ok := s.evalErr[script]; ok {
		return nil, err
	}

	queue, ok := s.results[script]
	if !ok || len(queue) == 0 {
		return nil, fmt.Errorf("no scripted result for %q", script)
	}

	value := queue[0]
	if len(queue) > 1 {
		s.results[script] = queue[1:]
	}

	return value, nil
}

func (s *Scripted) QueryAll(ctx context.Context, selector string) ([]Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Node, len(s.nodes[selector]))
	copy(out, s.nodes[selector])

	return out, nil
}

func (s *Scripted) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.nodes[selector]) == 0 {
		return fmt.Errorf("selector %q never matched", selector)
	}

	return nil
}

// Sleep returns immediately so behavior tests never wait on wall clocks.
func (s *Scripted) Sleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}

func (s *Scripted) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.url
}

func (s *Scripted) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true

	return nil
}

// Navigations lists every URL navigated to, in order.
func (s *Scripted) Navigations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, len(s.navigations))
	copy(out, s.navigations)

	return out
}

// Evaluated lists every script run, in order.
func (s *Scripted) Evaluated() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, len(s.evaluated))
	copy(out, s.evaluated)

	return out
}

func (s *Scripted) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}
