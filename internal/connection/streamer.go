package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/goldstream/internal/auth"
)

// SessionSource provides authenticated sessions to the streamer.
type SessionSource interface {
	Session(ctx context.Context) (*auth.Session, error)
	Invalidate()
}

// Streamer keeps one upstream subscription alive and forwards its frames.
// Run is single-use; the frames channel is closed when Run returns.
type Streamer struct {
	cfg      StreamerConfig
	sessions SessionSource
	logger   *slog.Logger
	out      chan Frame

	// Overridable in tests.
	dial  func(cfg ClientConfig, logger *slog.Logger) Client
	sleep func(ctx context.Context, d time.Duration) error

	mu     sync.RWMutex
	status Status
}

// NewStreamer creates a Streamer.
func NewStreamer(cfg StreamerConfig, sessions SessionSource, logger *slog.Logger) *Streamer {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultStreamerConfig()
	if len(cfg.Epics) == 0 {
		cfg.Epics = def.Epics
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.ReconnectBaseWait <= 0 {
		cfg.ReconnectBaseWait = def.ReconnectBaseWait
	}
	if cfg.ReconnectMaxWait <= 0 {
		cfg.ReconnectMaxWait = def.ReconnectMaxWait
	}
	if cfg.SubscribeTimeout <= 0 {
		cfg.SubscribeTimeout = def.SubscribeTimeout
	}
	if cfg.OutputBuffer <= 0 {
		cfg.OutputBuffer = def.OutputBuffer
	}

	return &Streamer{
		cfg:      cfg,
		sessions: sessions,
		logger:   logger,
		out:      make(chan Frame, cfg.OutputBuffer),
		dial:     NewClient,
		sleep:    sleepCtx,
	}
}

// Frames returns the channel of forwarded upstream frames.
func (s *Streamer) Frames() <-chan Frame {
	return s.out
}

// Status returns a snapshot of the streamer state.
func (s *Streamer) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Run connects and streams until ctx is cancelled (returns nil) or
// MaxRetries consecutive attempts fail (returns ErrStreamingStopped).
// Every failed attempt is followed by a backoff wait starting at
// ReconnectBaseWait and doubling up to ReconnectMaxWait. An attempt that
// reached a confirmed subscription resets both the counter and the wait.
func (s *Streamer) Run(ctx context.Context) error {
	defer close(s.out)

	wait := s.cfg.ReconnectBaseWait
	failures := 0

	s.logger.Info("streamer starting",
		"url", s.cfg.URL,
		"epics", s.cfg.Epics,
		"max_retries", s.cfg.MaxRetries,
	)

	for {
		subscribed, err := s.attempt(ctx)
		if ctx.Err() != nil {
			s.update(func(st *Status) { st.Connected, st.Streaming = false, false })
			s.logger.Info("streamer stopped by context")
			return nil
		}

		if subscribed {
			failures = 0
			wait = s.cfg.ReconnectBaseWait
		}
		failures++

		// Each reconnect attempt logs in again; tokens may have expired
		// without the provider saying so at the HTTP level.
		s.sessions.Invalidate()

		s.update(func(st *Status) {
			st.Connected, st.Streaming = false, false
			st.Failures = failures
			st.LastError = err.Error()
		})
		s.logger.Warn("stream attempt failed",
			"failures", failures,
			"max_retries", s.cfg.MaxRetries,
			"backoff", wait,
			"error", err,
		)

		if err := s.sleep(ctx, wait); err != nil {
			return nil
		}
		wait = min(wait*2, s.cfg.ReconnectMaxWait)

		if failures >= s.cfg.MaxRetries {
			s.update(func(st *Status) { st.Stopped = true })
			s.logger.Error("streaming stopped, retries exhausted", "failures", failures)
			return fmt.Errorf("%w after %d attempts: %w", ErrStreamingStopped, failures, err)
		}
	}
}

// attempt runs one authenticate-dial-subscribe-stream cycle. It reports
// whether a subscription was confirmed, and always returns a non-nil error
// unless ctx was cancelled.
func (s *Streamer) attempt(ctx context.Context) (bool, error) {
	s.update(func(st *Status) { st.Attempts++ })

	sess, err := s.sessions.Session(ctx)
	if err != nil {
		return false, fmt.Errorf("session: %w", err)
	}

	ccfg := s.cfg.Client
	ccfg.URL = s.cfg.URL
	ccfg.Header = sess.Header()
	ccfg.PingMessage = func() []byte {
		data, err := pingMessage(sess)
		if err != nil {
			s.logger.Warn("encode ping", "error", err)
			return nil
		}
		return data
	}

	c := s.dial(ccfg, s.logger)
	if err := c.Connect(ctx); err != nil {
		if errors.Is(err, auth.ErrAuth) {
			return false, err
		}
		return false, fmt.Errorf("%w: %v", ErrConnect, err)
	}
	defer c.Close()

	now := time.Now()
	s.update(func(st *Status) {
		st.Connected = true
		st.ConnectedAt = now
		st.AccountID = sess.AccountID
	})

	epic, err := s.subscribe(ctx, c, sess)
	if err != nil {
		return false, err
	}

	s.update(func(st *Status) {
		st.Streaming = true
		st.Epic = epic
		st.Failures = 0
		st.LastError = ""
	})
	s.logger.Info("streaming", "epic", epic, "account_id", sess.AccountID)

	return true, s.pump(ctx, c, epic)
}

// subscribe tries each alias in order and returns the first accepted one.
func (s *Streamer) subscribe(ctx context.Context, c Client, sess *auth.Session) (string, error) {
	var errs []error
	for _, epic := range s.cfg.Epics {
		err := s.subscribeEpic(ctx, c, sess, epic)
		if err == nil {
			return epic, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if errors.Is(err, ErrNotConnected) || isConnError(err) || errors.Is(err, auth.ErrAuth) {
			return "", err
		}
		s.logger.Warn("subscription rejected", "epic", epic, "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", epic, err))
	}
	return "", fmt.Errorf("%w: %w", ErrSubscribe, errors.Join(errs...))
}

type connError struct{ err error }

func (e connError) Error() string { return "connection lost: " + e.err.Error() }
func (e connError) Unwrap() error { return e.err }

func isConnError(err error) bool {
	var ce connError
	return errors.As(err, &ce)
}

func (s *Streamer) subscribeEpic(ctx context.Context, c Client, sess *auth.Session, epic string) error {
	req := Request{
		Destination:   DestinationSubscribe,
		CorrelationID: uuid.NewString(),
		CST:           sess.SessionToken,
		SecurityToken: sess.SecurityToken,
		Payload:       SubscribePayload{Epics: []string{epic}},
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode subscribe: %w", err)
	}
	if err := c.Send(data); err != nil {
		return connError{err}
	}

	timer := time.NewTimer(s.cfg.SubscribeTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return ErrTimeout
		case err := <-c.Errors():
			return connError{err}
		case msg := <-c.Messages():
			var ack Ack
			if err := json.Unmarshal(msg.Data, &ack); err != nil {
				continue
			}
			if ack.Destination != DestinationSubscribe {
				continue
			}
			if ack.CorrelationID != "" && ack.CorrelationID != req.CorrelationID {
				continue
			}
			return checkSubscribeAck(ack, epic)
		}
	}
}

func checkSubscribeAck(ack Ack, epic string) error {
	var payload SubscribeAckPayload
	if len(ack.Payload) > 0 {
		if err := json.Unmarshal(ack.Payload, &payload); err != nil {
			return fmt.Errorf("decode ack payload: %w", err)
		}
	}
	if ack.Status != StatusOK {
		if isSessionErrorCode(payload.ErrorCode) {
			return fmt.Errorf("%w: subscribe rejected: %s", auth.ErrAuth, payload.ErrorCode)
		}
		return fmt.Errorf("ack status %q %s", ack.Status, payload.ErrorCode)
	}
	if state := payload.Subscriptions[epic]; state != SubscriptionAccepted {
		return fmt.Errorf("subscription state %q", state)
	}
	return nil
}

// isSessionErrorCode reports whether a provider error code means the CST or
// security token is no longer accepted.
func isSessionErrorCode(code string) bool {
	for _, prefix := range sessionErrorPrefixes {
		if strings.HasPrefix(code, prefix) {
			return true
		}
	}
	return false
}

// pump forwards frames until the connection fails or ctx is cancelled.
// Forwarding never blocks; frames are dropped when the output is full.
func (s *Streamer) pump(ctx context.Context, c Client, epic string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-c.Errors():
			return fmt.Errorf("stream read: %w", err)
		case msg := <-c.Messages():
			frame := Frame{Data: msg.Data, Epic: epic, ReceivedAt: msg.ReceivedAt}
			select {
			case s.out <- frame:
				s.update(func(st *Status) { st.FramesReceived++ })
			default:
				s.update(func(st *Status) { st.FramesDropped++ })
				s.logger.Warn("frame output full, dropping frame")
			}
		}
	}
}

func (s *Streamer) update(fn func(*Status)) {
	s.mu.Lock()
	fn(&s.status)
	s.mu.Unlock()
}

func pingMessage(sess *auth.Session) ([]byte, error) {
	data, err := json.Marshal(Request{
		Destination:   DestinationPing,
		CorrelationID: uuid.NewString(),
		CST:           sess.SessionToken,
		SecurityToken: sess.SecurityToken,
	})
	if err != nil {
		return nil, fmt.Errorf("encode ping: %w", err)
	}
	return data, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
