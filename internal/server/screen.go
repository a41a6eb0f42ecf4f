package server

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/oszuidwest/zwfm-ecoscan/internal/audio"
	"github.com/oszuidwest/zwfm-ecoscan/internal/feed"
	"github.com/oszuidwest/zwfm-ecoscan/internal/geo"
	"github.com/oszuidwest/zwfm-ecoscan/internal/observability"
	"github.com/oszuidwest/zwfm-ecoscan/internal/report"
	"github.com/oszuidwest/zwfm-ecoscan/internal/sampler"
	"github.com/oszuidwest/zwfm-ecoscan/internal/store"
	"github.com/oszuidwest/zwfm-ecoscan/internal/types"
)

// Push cadences.
const (
	LevelsInterval = 100 * time.Millisecond // 10 fps for the level meter
	StatusInterval = 3 * time.Second
	commandTimeout = 10 * time.Second
)

// Store is the part of the observation store a screen uses.
type Store interface {
	Insert(ctx context.Context, o types.Observation) (types.Observation, error)
	SelectAll(ctx context.Context) ([]types.Observation, error)
	Subscribe(handler func(types.Observation)) (store.Subscription, error)
}

// Deps are the shared services every screen is built from.
type Deps struct {
	Store        Store
	Input        audio.Input
	NewAnalyser  func() (sampler.Analyser, error)
	Clock        clockwork.Clock
	TickInterval time.Duration
	// Station locates the station when the browser has no fix. May be nil.
	Station geo.Locator
	Center  types.Position
	Metrics *observability.Metrics
	Version func() types.VersionInfo
}

// Screen is one connected client. It owns a sampler, a feed and the report
// selection, and tears them down exactly once.
type Screen struct {
	deps    Deps
	send    chan any
	ctx     context.Context
	cancel  context.CancelFunc
	sampler *sampler.Sampler
	feed    *feed.Feed
	fix     *geo.ClientFix
	locator geo.Locator
	wg      sync.WaitGroup

	statusUpdate chan struct{}
	closeOnce    sync.Once

	// mu protects the selection and level fields below
	mu         sync.Mutex
	category   types.Category
	position   *types.Position
	reading    types.LevelReading
	readingSeq uint64
	sentSeq    uint64
	lastErr    error
	closing    bool
}

// NewScreen creates a screen and opens its insert subscription.
func NewScreen(deps Deps) (*Screen, error) {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Version == nil {
		deps.Version = func() types.VersionInfo { return types.VersionInfo{} }
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Screen{
		deps:         deps,
		send:         make(chan any, 16),
		ctx:          ctx,
		cancel:       cancel,
		fix:          geo.NewClientFix(),
		statusUpdate: make(chan struct{}, 1),
	}

	s.locator = geo.Chain{s.fix}
	if deps.Station != nil {
		s.locator = geo.Chain{s.fix, deps.Station}
	}

	s.sampler = sampler.New(sampler.Options{
		Input:        deps.Input,
		NewAnalyser:  deps.NewAnalyser,
		Clock:        deps.Clock,
		TickInterval: deps.TickInterval,
		OnReading:    s.onReading,
		OnEnded:      s.onEnded,
		Metrics:      deps.Metrics,
	})

	s.feed = feed.New(deps.Store, s.locator, deps.Center)
	if err := s.feed.SubscribeInserts(s.onInsert); err != nil {
		s.sampler.Close()
		cancel()
		return nil, err
	}

	deps.Metrics.ActiveScreens.Inc()
	return s, nil
}

// Push queues msg for the client. It blocks until the writer takes it and
// returns false once the screen is closed.
func (s *Screen) Push(msg any) bool {
	if s.ctx.Err() != nil {
		return false
	}
	select {
	case s.send <- msg:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// Run serves conn until either side goes away, then tears the screen down.
func (s *Screen) Run(conn WebSocketConn) {
	go s.runWriter(conn)
	go s.runReader(conn)

	if err := s.loadFeed(s.ctx); err != nil {
		SendError(s.Push, "feed/load", err)
	}
	s.runEventLoop()

	s.Close()
	if err := conn.Close(); err != nil {
		slog.Debug("WebSocket close error", "error", err)
	}
}

// runWriter is the sole writer to the connection.
func (s *Screen) runWriter(conn WebSocketConn) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.send:
			if err := conn.WriteJSON(msg); err != nil {
				slog.Debug("WebSocket write failed", "error", err)
				s.cancel()
				return
			}
		}
	}
}

// runReader reads commands from the connection and dispatches them.
func (s *Screen) runReader(conn WebSocketConn) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in WebSocket reader", "panic", r)
		}
		s.cancel()
	}()

	for {
		var cmd WSCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		s.Handle(cmd)
	}
}

// runEventLoop pushes coalesced levels and periodic status until the screen closes.
func (s *Screen) runEventLoop() {
	levelsTicker := s.deps.Clock.NewTicker(LevelsInterval)
	statusTicker := s.deps.Clock.NewTicker(StatusInterval)
	defer levelsTicker.Stop()
	defer statusTicker.Stop()

	if !s.Push(s.buildStatus()) {
		return
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.statusUpdate:
			if !s.Push(s.buildStatus()) {
				return
			}
		case <-levelsTicker.Chan():
			if msg, ok := s.pendingLevels(); ok && !s.Push(msg) {
				return
			}
		case <-statusTicker.Chan():
			if !s.Push(s.buildStatus()) {
				return
			}
		}
	}
}

// Close stops the sampler and ends the insert subscription. It is safe to
// call more than once.
func (s *Screen) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		s.mu.Unlock()

		s.cancel()
		s.sampler.Close()
		s.feed.Unsubscribe()
		s.wg.Wait()
		s.deps.Metrics.ActiveScreens.Dec()
		slog.Debug("screen closed")
	})
}

// triggerStatusUpdate schedules a status push without blocking.
func (s *Screen) triggerStatusUpdate() {
	select {
	case s.statusUpdate <- struct{}{}:
	default:
	}
}

func (s *Screen) onReading(r types.LevelReading) {
	s.mu.Lock()
	s.reading = r
	s.readingSeq++
	s.mu.Unlock()
}

func (s *Screen) onEnded(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	s.triggerStatusUpdate()
}

func (s *Screen) onInsert(o types.Observation) {
	s.Push(types.WSReportResponse{Type: "report", Marker: feed.Render(o)})
}

// pendingLevels returns the newest reading if it has not been pushed yet.
func (s *Screen) pendingLevels() (types.WSLevelsResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readingSeq == s.sentSeq || s.sampler.State() != types.SamplerSampling {
		return types.WSLevelsResponse{}, false
	}
	s.sentSeq = s.readingSeq
	r := s.reading
	return types.WSLevelsResponse{Type: "levels", Reading: &r}, true
}

// submission assembles the report from the current level and selection.
func (s *Screen) submission(description string) report.Submission {
	var level *int
	if l, ok := s.sampler.Level(); ok {
		level = &l
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return report.New(s.category, level, s.position, description)
}

// buildStatus returns the current screen status.
func (s *Screen) buildStatus() types.WSStatusResponse {
	sub := s.submission("")
	status := types.WSStatusResponse{
		Type:       "status",
		Sampler:    s.sampler.State(),
		Level:      sub.Level,
		CanSubmit:  sub.Ready(),
		Categories: slices.Clone(types.Categories),
		Version:    s.deps.Version(),
	}

	s.mu.Lock()
	status.Category = s.category
	if s.position != nil {
		p := *s.position
		status.Position = &p
	}
	if s.lastErr != nil {
		status.LastError = types.ErrorCode(s.lastErr)
	}
	s.mu.Unlock()
	return status
}

// loadFeed loads the initial sequence and pushes it.
func (s *Screen) loadFeed(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	if err := s.feed.LoadInitial(ctx); err != nil {
		slog.Warn("failed to load feed", "error", err)
		return err
	}
	s.pushFeed()
	return nil
}

func (s *Screen) pushFeed() {
	state := s.feed.State()
	s.Push(types.WSFeedResponse{
		Type:    "feed",
		Markers: feed.RenderAll(state.Observations),
		Center:  s.feed.Center(),
		Viewer:  state.Viewer,
	})
}
