package recognizer

import (
	"context"
	"sync"

	"github.com/sokhanlabs/negar-core/internal/audio"
)

// Mock replays a scripted sequence of outcomes. Used by pipeline tests.
type Mock struct {
	name string
	mu   sync.Mutex

	results []Result
	errs    []error
	Calls   int
}

func NewMock(name string) *Mock {
	return &Mock{name: name}
}

// Enqueue appends one scripted call outcome. A nil error replays the result;
// a non-nil error replays the error.
func (m *Mock) Enqueue(res Result, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, res)
	m.errs = append(m.errs, err)
}

func (m *Mock) Name() string { return m.name }

func (m *Mock) Recognize(_ context.Context, _ audio.Segment, _ Hints) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Calls >= len(m.results) {
		m.Calls++
		return Result{}, ErrUnintelligible
	}
	res, err := m.results[m.Calls], m.errs[m.Calls]
	m.Calls++
	if err != nil {
		return Result{}, err
	}
	return res, nil
}
