package marketdata

import (
	"context"
	"sync"
	"time"

	"intradesk/pkg/types"
)

// StaticSource is the in-memory Source used by tests and dry runs. Values
// are set directly; reads never fail unless a fault is injected.
type StaticSource struct {
	mu           sync.Mutex
	vix          float64
	headlines    []types.NewsEvent
	breadth      Breadth
	flows        Flows
	fundamentals map[string]Fundamentals
	events       []CalendarEvent
	err          error
}

// NewStaticSource creates a source with the given VIX level.
func NewStaticSource(vix float64) *StaticSource {
	return &StaticSource{vix: vix}
}

// SetVIX updates the volatility index reading.
func (s *StaticSource) SetVIX(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vix = v
}

// AddHeadline appends a news event.
func (s *StaticSource) AddHeadline(e types.NewsEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.headlines = append(s.headlines, e)
}

// SetBreadth updates the advance/decline snapshot.
func (s *StaticSource) SetBreadth(b Breadth) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.breadth = b
}

// SetFlows updates the institutional flow snapshot.
func (s *StaticSource) SetFlows(f Flows) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flows = f
}

// SetFundamentals seeds one company's figures.
func (s *StaticSource) SetFundamentals(f Fundamentals) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fundamentals == nil {
		s.fundamentals = make(map[string]Fundamentals)
	}
	s.fundamentals[f.Symbol] = f
}

// AddEvent appends a calendar event.
func (s *StaticSource) AddEvent(e CalendarEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

// Fail makes every subsequent read return err; nil clears the fault.
func (s *StaticSource) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *StaticSource) VIX(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	return s.vix, nil
}

func (s *StaticSource) Headlines(ctx context.Context, since time.Time) ([]types.NewsEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	var out []types.NewsEvent
	for _, e := range s.headlines {
		if !e.At.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *StaticSource) Breadth(ctx context.Context) (Breadth, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return Breadth{}, s.err
	}
	return s.breadth, nil
}

func (s *StaticSource) Flows(ctx context.Context) (Flows, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return Flows{}, s.err
	}
	return s.flows, nil
}

func (s *StaticSource) Fundamentals(ctx context.Context, symbol string) (Fundamentals, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return Fundamentals{}, false, s.err
	}
	f, ok := s.fundamentals[symbol]
	return f, ok, nil
}

func (s *StaticSource) Events(ctx context.Context, from, to time.Time) ([]CalendarEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	var out []CalendarEvent
	for _, e := range s.events {
		if !e.At.Before(from) && !e.At.After(to) {
			out = append(out, e)
		}
	}
	return out, nil
}
