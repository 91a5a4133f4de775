// ABOUTME: Capture session state machine
// ABOUTME: Clones callback buffers onto a serial worker queue that converts and writes
package capture

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Tapdeck-Audio/tapdeck-go/pkg/audio"
	"github.com/Tapdeck-Audio/tapdeck-go/pkg/audio/convert"
	"github.com/Tapdeck-Audio/tapdeck-go/pkg/audio/pcmio"
)

const (
	// defaultQueueDepth bounds the callback-to-worker queue. When the
	// queue is full the callback drops the newest chunk (counted, logged
	// at stop) rather than block the real-time thread; already-queued
	// audio stays contiguous.
	defaultQueueDepth = 256

	// minGap is the smallest timing shortfall worth padding with
	// silence; anything shorter is callback jitter.
	minGap = 100 * time.Millisecond
)

// Config describes one capture session.
type Config struct {
	Source         Source
	OutputPath     string
	TargetRate     float64 // default 16000
	TargetChannels int     // default 1
	QueueDepth     int     // default 256
}

// Stats is a point-in-time snapshot of a running session.
type Stats struct {
	Chunks        uint64
	Dropped       uint64
	FramesWritten uint64
	Duration      time.Duration
}

// Session records one audio source to one file. Lifecycle is
// idle -> running -> idle and re-armable; Start while running and Stop
// while idle are no-ops.
//
// Two concurrency domains exist: the source's real-time callback, which
// only clones the borrowed buffer and enqueues it, and a single worker
// goroutine that owns all mutable state (conversion context, rate
// tracker, output file) and may block and allocate. FIFO order on the
// queue keeps output frame order equal to capture order.
//
// Per-chunk conversion or write failures are logged and the chunk is
// dropped; the session keeps recording. Losing one chunk beats losing
// the take.
type Session struct {
	cfg    Config
	id     string
	target audio.Format

	mu      sync.Mutex
	running bool

	queue     chan queuedChunk
	done      chan struct{}
	accepting atomic.Bool

	// Worker-owned; untouched outside the worker while running.
	ctx       *convert.Context
	writer    *pcmio.Writer
	tracker   *RateTracker
	srcFormat audio.Format // format the source declares, not the effective rate
	lastTS    time.Duration
	haveTS    bool

	startWall time.Time

	chunks  atomic.Uint64
	dropped atomic.Uint64
	frames  atomic.Uint64

	errMu   sync.Mutex
	lastErr error
}

type queuedChunk struct {
	buf    *audio.Buffer
	ts     time.Duration
	format audio.Format
}

// NewSession builds an idle session, applying config defaults.
func NewSession(cfg Config) *Session {
	if cfg.TargetRate == 0 {
		cfg.TargetRate = 16000
	}
	if cfg.TargetChannels == 0 {
		cfg.TargetChannels = 1
	}
	if cfg.QueueDepth == 0 {
		cfg.QueueDepth = defaultQueueDepth
	}
	return &Session{
		cfg: cfg,
		id:  uuid.NewString(),
		target: audio.Format{
			SampleRate:  cfg.TargetRate,
			Channels:    cfg.TargetChannels,
			Interleaved: false,
		},
	}
}

// ID returns the session's recording identifier.
func (s *Session) ID() string { return s.id }

// OutputPath returns the file the session writes.
func (s *Session) OutputPath() string { return s.cfg.OutputPath }

// Running reports whether the session is recording.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Err returns the most recent asynchronous error, if any. Worker-side
// failures surface here rather than aborting the recording.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.lastErr
}

// Stats returns live counters.
func (s *Session) Stats() Stats {
	st := Stats{
		Chunks:        s.chunks.Load(),
		Dropped:       s.dropped.Load(),
		FramesWritten: s.frames.Load(),
	}
	st.Duration = s.target.Duration(int(st.FramesWritten))
	return st
}

// Start resolves the source format, builds the initial conversion
// context, opens the output file, and registers the capture callback.
// Calling Start on a running session is a no-op; the in-progress file is
// untouched.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	srcFormat, err := s.cfg.Source.Format()
	if err != nil {
		return fmt.Errorf("failed to resolve source format: %w", err)
	}

	ctx, err := convert.NewContext(srcFormat, s.target)
	if err != nil {
		return fmt.Errorf("failed to build converter %s -> %s: %w", srcFormat, s.target, err)
	}

	writer, err := pcmio.NewWriter(s.cfg.OutputPath, s.target)
	if err != nil {
		return err
	}

	s.ctx = ctx
	s.writer = writer
	s.tracker = NewRateTracker(srcFormat.SampleRate)
	s.srcFormat = srcFormat
	s.lastTS = 0
	s.haveTS = false
	s.queue = make(chan queuedChunk, s.cfg.QueueDepth)
	s.done = make(chan struct{})
	s.chunks.Store(0)
	s.dropped.Store(0)
	s.frames.Store(0)
	s.setErr(nil)

	s.accepting.Store(true)
	if err := s.cfg.Source.Start(s.onChunk); err != nil {
		s.accepting.Store(false)
		writer.Close()
		return fmt.Errorf("failed to start source: %w", err)
	}

	s.startWall = time.Now()
	go s.worker()
	s.running = true
	log.Printf("[%s] recording %s -> %s", s.id, srcFormat, s.cfg.OutputPath)
	return nil
}

// onChunk runs on the source's real-time thread. The borrowed buffer is
// deep-copied here; that copy is the only state that crosses to the
// worker.
func (s *Session) onChunk(c Chunk) {
	if !s.accepting.Load() {
		return
	}
	item := queuedChunk{
		buf:    c.Buffer.Clone(),
		ts:     c.Timestamp,
		format: c.Format,
	}
	select {
	case s.queue <- item:
	default:
		s.dropped.Add(1)
	}
}

// worker drains the queue in arrival order. It is the sole owner of the
// conversion context, rate tracker, and output file while running.
func (s *Session) worker() {
	defer close(s.done)
	for item := range s.queue {
		s.process(item)
	}
}

func (s *Session) process(item queuedChunk) {
	// An upstream format change invalidates the context; rebuild before
	// converting this chunk. The old context is replaced, not mutated.
	if !item.format.Equal(s.srcFormat) {
		ctx, err := convert.NewContext(item.format, s.target)
		if err != nil {
			s.fail(fmt.Errorf("converter rebuild for %s failed: %w", item.format, err))
			return
		}
		log.Printf("[%s] source format changed %s -> %s", s.id, s.srcFormat, item.format)
		s.ctx = ctx
		s.srcFormat = item.format
		s.tracker = NewRateTracker(item.format.SampleRate)
		s.haveTS = false
	}

	if s.haveTS {
		elapsed := item.ts - s.lastTS
		if elapsed > 0 {
			s.padGap(elapsed, item.buf.FrameLen)
			s.observeRate(elapsed, item.buf.FrameLen)
		}
	}
	s.lastTS = item.ts
	s.haveTS = true

	// A confirmed effective-rate rebind leaves the bound input rate
	// differing from the declared one; the chunk is interpreted at the
	// bound rate.
	item.buf.Format = s.ctx.Input()

	out, err := s.ctx.Convert(item.buf)
	if err != nil {
		s.fail(fmt.Errorf("conversion failed, chunk dropped: %w", err))
		return
	}
	if out.FrameLen == 0 {
		return
	}
	if err := s.writer.WriteBuffer(out); err != nil {
		s.fail(fmt.Errorf("write failed, chunk dropped: %w", err))
		return
	}
	s.frames.Add(uint64(out.FrameLen))
	s.chunks.Add(1)
}

// padGap writes silence when the device clock advanced substantially
// further than the delivered frames account for, so file duration tracks
// elapsed time instead of drifting short.
func (s *Session) padGap(elapsed time.Duration, deliveredFrames int) {
	inRate := s.ctx.Input().SampleRate
	gapSec := elapsed.Seconds() - float64(deliveredFrames)/inRate
	gapFrames := int(gapSec * s.target.SampleRate)
	if gapFrames < s.target.FramesFor(minGap) {
		return
	}
	if err := s.writer.WriteSilence(gapFrames); err != nil {
		s.fail(fmt.Errorf("gap padding failed: %w", err))
		return
	}
	s.frames.Add(uint64(gapFrames))
	log.Printf("[%s] padded %.2fs silence gap", s.id, gapSec)
}

// observeRate feeds the effective input rate to the tracker and rebuilds
// the conversion context once a genuine rate change is confirmed.
func (s *Session) observeRate(elapsed time.Duration, deliveredFrames int) {
	measured := float64(deliveredFrames) / elapsed.Seconds()
	newRate, rebuild := s.tracker.Observe(measured)
	if !rebuild {
		return
	}
	in := s.ctx.Input()
	in.SampleRate = newRate
	ctx, err := convert.NewContext(in, s.target)
	if err != nil {
		s.fail(fmt.Errorf("converter rebuild at %gHz failed: %w", newRate, err))
		return
	}
	log.Printf("[%s] effective rate change confirmed, rebinding converter at %gHz", s.id, newRate)
	s.ctx = ctx
}

// Stop drains the worker queue, pads trailing silence up to the elapsed
// wall clock, closes the output file, and returns the session to idle.
// Stopping an idle session is a no-op.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}

	s.accepting.Store(false)
	if err := s.cfg.Source.Stop(); err != nil {
		log.Printf("[%s] source stop: %v", s.id, err)
	}
	// The source guarantees no callbacks after Stop returns, so the
	// queue can be closed and drained to completion.
	close(s.queue)
	<-s.done

	if dropped := s.dropped.Load(); dropped > 0 {
		log.Printf("[%s] dropped %d chunks on full queue", s.id, dropped)
	}

	elapsed := time.Since(s.startWall)
	written := s.target.Duration(int(s.frames.Load()))
	if tail := elapsed - written; tail >= minGap {
		if err := s.writer.WriteSilence(s.target.FramesFor(tail)); err != nil {
			log.Printf("[%s] trailing silence: %v", s.id, err)
		}
	}

	err := s.writer.Close()
	s.running = false
	log.Printf("[%s] stopped, %d frames to %s", s.id, s.writer.Frames(), s.cfg.OutputPath)
	if err != nil {
		return fmt.Errorf("failed to close %s: %w", s.cfg.OutputPath, err)
	}
	return nil
}

func (s *Session) fail(err error) {
	log.Printf("[%s] %v", s.id, err)
	s.setErr(err)
}

func (s *Session) setErr(err error) {
	s.errMu.Lock()
	s.lastErr = err
	s.errMu.Unlock()
}
