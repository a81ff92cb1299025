// Package session coordinates discovery and connection of Garmin devices
// across transports. The Coordinator is the only entry point callers use;
// transports are never called directly.
package session

import (
	"context"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gajzzs/garmind/internal/device"
	"github.com/gajzzs/garmind/internal/logger"
)

const releaseTimeout = 10 * time.Second

type Options struct {
	Retry      RetryPolicy
	ScanWindow time.Duration
	// Extension is the activity file suffix matched by ExtractFiles.
	Extension string
	// OnTransition, when set, is called under the session lock after every
	// state change.
	OnTransition func(id string, from, to State)
}

type Coordinator struct {
	mu       sync.Mutex
	sessions map[string]*Session
	// snapshots mirrors every session and is refreshed on each transition,
	// so listing never waits on a session lock held across a connect.
	snapshots map[string]Snapshot
	closed    bool

	registry   *device.Registry
	transports map[device.Kind]device.Transport
	opts       Options
	log        logger.Logger
}

func New(opts Options, log logger.Logger, transports ...device.Transport) *Coordinator {
	if opts.Extension == "" {
		opts.Extension = device.DefaultExtension
	}
	c := &Coordinator{
		sessions:   make(map[string]*Session),
		snapshots:  make(map[string]Snapshot),
		registry:   device.NewRegistry(),
		transports: make(map[device.Kind]device.Transport),
		opts:       opts,
		log:        log.WithComponent("coordinator"),
	}
	for _, t := range transports {
		c.transports[t.Kind()] = t
	}
	return c
}

// Devices lists the known descriptors of the given kinds, or all of them.
func (c *Coordinator) Devices(kinds ...device.Kind) []device.Descriptor {
	return c.registry.List(kinds...)
}

// Sessions returns a snapshot of every session ordered by device id. It
// does not block on sessions that are mid-connect.
func (c *Coordinator) Sessions() []Snapshot {
	c.mu.Lock()
	out := make([]Snapshot, 0, len(c.snapshots))
	for _, snap := range c.snapshots {
		out = append(out, snap)
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Scan runs one discovery window on the transport for kind in the
// background and yields descriptors as they are found. Every descriptor is
// registered before it is yielded, superseding older entries with the same
// id. A failed or cancelled scan ends with a single error.
func (c *Coordinator) Scan(ctx context.Context, kind device.Kind) iter.Seq2[device.Descriptor, error] {
	return func(yield func(device.Descriptor, error) bool) {
		t, ok := c.transports[kind]
		if !ok {
			yield(device.Descriptor{}, device.Errorf(device.ReasonSubsystemUnavailable, "scan", "", "no %s transport configured", kind))
			return
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		found := make(chan device.Descriptor)
		done := make(chan error, 1)
		go func() {
			done <- t.Discover(ctx, c.opts.ScanWindow, func(d device.Descriptor) {
				if !c.registry.Put(d) {
					c.log.Debug().Str("device_id", d.ID).Msg("Descriptor queued until session settles")
				}
				select {
				case found <- d:
				case <-ctx.Done():
				}
			})
			close(found)
		}()

		for d := range found {
			if !yield(d, nil) {
				return
			}
		}
		if err := <-done; err != nil {
			yield(device.Descriptor{}, device.Classify(err, "scan", ""))
		}
	}
}

// Connect drives the session for id to Mounted or Paired. Retryable
// failures are retried with exponential backoff; the returned snapshot
// always reflects the terminal state reached. A concurrent Connect for the
// same id fails immediately with AlreadyConnecting. Connecting a session
// that is already connected returns its snapshot.
func (c *Coordinator) Connect(ctx context.Context, id string) (Snapshot, error) {
	snap, _, err := c.connect(ctx, id)
	return snap, err
}

// Acquire is Connect for callers that disconnect when they are done. A
// session that was already connected belongs to someone else, so it is
// refused with AlreadyConnecting instead of being shared.
func (c *Coordinator) Acquire(ctx context.Context, id string) (Snapshot, error) {
	snap, connected, err := c.connect(ctx, id)
	if err == nil && !connected {
		return snap, device.Errorf(device.ReasonAlreadyConnecting, "connect", id, "session already connected by another caller")
	}
	return snap, err
}

// connect reports whether this call made the connection.
func (c *Coordinator) connect(ctx context.Context, id string) (Snapshot, bool, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Snapshot{}, false, device.Errorf(device.ReasonSubsystemUnavailable, "connect", id, "coordinator closed")
	}
	s, ok := c.sessions[id]
	if !ok {
		s = &Session{id: id}
		c.sessions[id] = s
		c.snapshots[id] = s.snapshot()
	}
	if s.inflight {
		c.mu.Unlock()
		return Snapshot{}, false, device.NewError(device.ReasonAlreadyConnecting, "connect", id, nil)
	}
	s.inflight = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		s.inflight = false
		c.mu.Unlock()
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Connected() {
		return s.snapshot(), false, nil
	}

	log := c.log.With().Str("device_id", id).Str("attempt_id", uuid.NewString()).Logger()
	s.attempts = 0

	desc, ok := c.registry.Pin(id)
	if !ok {
		c.setState(s, StateDiscovering)
		var err error
		if desc, err = c.discover(ctx, id, log); err != nil {
			c.fail(s, err)
			log.Error().Err(err).Msg("Device not found")
			return s.snapshot(), false, s.lastErr
		}
		if desc, ok = c.registry.Pin(id); !ok {
			c.fail(s, device.Errorf(device.ReasonUnknown, "connect", id, "descriptor vanished after discovery"))
			return s.snapshot(), false, s.lastErr
		}
	}
	defer c.registry.Unpin(id)

	s.device = desc
	c.setState(s, StateCandidateFound)

	t, ok := c.transports[desc.Kind]
	if !ok {
		c.fail(s, device.Errorf(device.ReasonSubsystemUnavailable, "connect", id, "no %s transport configured", desc.Kind))
		return s.snapshot(), false, s.lastErr
	}

	operation := func() (*device.Handle, error) {
		s.attempts++
		c.setState(s, StateConnecting)

		h, err := t.Open(ctx, desc)
		if ctx.Err() != nil {
			// cancelled mid-attempt: release whatever Open managed to acquire
			s.handle = h
			c.release(ctx, s, t, log)
			return nil, backoff.Permanent(device.NewError(device.ReasonOf(ctx.Err()), "connect", id, ctx.Err()))
		}
		if err != nil {
			derr := device.Classify(err, "connect", id)
			c.fail(s, derr)
			if !derr.Reason.Retryable() {
				return nil, backoff.Permanent(derr)
			}
			return nil, derr
		}
		return h, nil
	}
	notify := func(err error, delay time.Duration) {
		log.Warn().
			Err(err).
			Int("attempt", s.attempts).
			Str("reason", string(device.ReasonOf(err))).
			Dur("delay", delay).
			Msg("Connection attempt failed, retrying")
	}

	h, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(c.opts.Retry.backOff()),
		backoff.WithMaxTries(c.opts.Retry.attempts()),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify),
	)
	if err != nil {
		derr := device.Classify(err, "connect", id)
		c.fail(s, derr)
		if derr.Reason == device.ReasonCancelled {
			log.Warn().Int("attempt", s.attempts).Msg("Connection cancelled")
		} else {
			log.Error().Err(derr).Int("attempt", s.attempts).Str("reason", string(derr.Reason)).Msg("Connection failed")
		}
		return s.snapshot(), false, derr
	}

	s.handle = h
	s.lastErr = nil
	c.setState(s, connectedState(desc.Kind))
	log.Info().Int("attempt", s.attempts).Str("state", s.state.String()).Msg("Device connected")
	return s.snapshot(), true, nil
}

// Disconnect releases the resource held for id and returns the session to
// Idle. Release errors are logged, not returned.
func (c *Coordinator) Disconnect(ctx context.Context, id string) error {
	s := c.session(id)
	if s == nil {
		return device.NewError(device.ReasonNotConnected, "disconnect", id, nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.Connected() {
		return device.NewError(device.ReasonNotConnected, "disconnect", id, nil)
	}

	log := c.log.With().Str("device_id", id).Logger()
	c.release(ctx, s, c.transports[s.device.Kind], log)
	c.setState(s, StateIdle)
	log.Info().Msg("Device disconnected")
	return nil
}

// ExtractFiles lists the activity files on a mounted device. It fails with
// NotMounted unless the session is Mounted; the returned sequence walks the
// mount once per range and may be ranged repeatedly.
func (c *Coordinator) ExtractFiles(ctx context.Context, id string) (iter.Seq2[device.ManifestEntry, error], error) {
	notMounted := device.NewError(device.ReasonNotMounted, "extract", id, nil)

	s := c.session(id)
	if s == nil {
		return nil, notMounted
	}
	s.mu.RLock()
	mounted := s.state == StateMounted && s.handle != nil
	s.mu.RUnlock()
	if !mounted {
		return nil, notMounted
	}

	return func(yield func(device.ManifestEntry, error) bool) {
		s.mu.RLock()
		var root string
		if s.state == StateMounted && s.handle != nil {
			root = s.handle.MountPath
		}
		s.mu.RUnlock()

		if root == "" {
			yield(device.ManifestEntry{}, notMounted)
			return
		}
		for entry, err := range device.Walk(ctx, root, c.opts.Extension) {
			if err != nil {
				err = device.Classify(err, "extract", id)
			}
			if !yield(entry, err) {
				return
			}
		}
	}, nil
}

// Close releases every held resource and refuses further connections.
func (c *Coordinator) Close(ctx context.Context) {
	c.mu.Lock()
	c.closed = true
	sessions := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	for _, s := range sessions {
		s.mu.Lock()
		if s.state.Connected() {
			log := c.log.With().Str("device_id", s.id).Logger()
			c.release(ctx, s, c.transports[s.device.Kind], log)
			c.setState(s, StateIdle)
		}
		s.mu.Unlock()
	}
}

func (c *Coordinator) session(id string) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[id]
}

// discover scans every transport until id shows up.
func (c *Coordinator) discover(ctx context.Context, id string, log zerolog.Logger) (device.Descriptor, error) {
	kinds := make([]device.Kind, 0, len(c.transports))
	for k := range c.transports {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	var lastErr error
	for _, k := range kinds {
		scanCtx, cancel := context.WithCancel(ctx)
		var match device.Descriptor
		var matched bool

		err := c.transports[k].Discover(scanCtx, c.opts.ScanWindow, func(d device.Descriptor) {
			c.registry.Put(d)
			if d.ID == id && !matched {
				match, matched = d, true
				cancel()
			}
		})
		cancel()

		if matched {
			return match, nil
		}
		if ctx.Err() != nil {
			return device.Descriptor{}, device.NewError(device.ReasonOf(ctx.Err()), "discover", id, ctx.Err())
		}
		if err != nil {
			log.Debug().Err(err).Str("kind", k.String()).Msg("Discovery failed")
			lastErr = err
		}
	}
	return device.Descriptor{}, device.NewError(device.ReasonTimeout, "discover", id, lastErr)
}

// release runs the Disconnecting step: the held handle is closed
// best-effort and dropped. The caller picks the state that follows.
func (c *Coordinator) release(ctx context.Context, s *Session, t device.Transport, log zerolog.Logger) {
	c.setState(s, StateDisconnecting)
	if s.handle == nil || t == nil {
		s.handle = nil
		return
	}

	relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := t.Close(relCtx, s.handle); err != nil {
		log.Warn().Err(err).Msg("Release failed, resource may already be gone")
	}
	s.handle = nil
}

func (c *Coordinator) fail(s *Session, err error) {
	s.lastErr = device.Classify(err, "connect", s.id)
	c.setState(s, StateFailed)
}

func (c *Coordinator) setState(s *Session, to State) {
	defer c.publish(s)

	from := s.state
	if from == to {
		return
	}
	if !canTransition(from, to) {
		c.log.Error().Str("device_id", s.id).Str("from", from.String()).Str("to", to.String()).Msg("Unexpected state transition")
	}
	s.state = to
	c.log.Debug().Str("device_id", s.id).Str("from", from.String()).Str("to", to.String()).Msg("State changed")
	if c.opts.OnTransition != nil {
		c.opts.OnTransition(s.id, from, to)
	}
}

// publish refreshes the listed snapshot of s. The caller holds s.mu; c.mu is
// only ever taken after s.mu, never before it.
func (c *Coordinator) publish(s *Session) {
	snap := s.snapshot()
	c.mu.Lock()
	c.snapshots[s.id] = snap
	c.mu.Unlock()
}
