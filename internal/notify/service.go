package notify

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	logx "crewcall/pkg/logx"
)

// Sender is the external delivery collaborator for one channel. The engine
// treats each send as fire-and-forget: retry policy, if any, lives behind
// this interface, never here.
type Sender interface {
	Send(ctx context.Context, userID string, title, body string, meta map[string]string) (delivered bool, err error)
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, userID, title, body string, meta map[string]string) (bool, error)

func (f SenderFunc) Send(ctx context.Context, userID, title, body string, meta map[string]string) (bool, error) {
	return f(ctx, userID, title, body, meta)
}

type Config struct {
	RatePerSec int
}

// Service fans one message out to a set of channels with independent
// per-channel outcomes. Sends across all channels share one token bucket so
// a large dispatch pass cannot stampede the delivery collaborators.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	log     logx.Logger
	limiter *rate.Limiter
	senders map[Channel]Sender
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:     log,
		senders: map[Channel]Sender{},
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 10
	}
	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Register installs the delivery collaborator for a channel. Registering nil
// removes it.
func (s *Service) Register(c Channel, snd Sender) {
	s.mu.Lock()
	if snd == nil {
		delete(s.senders, c)
	} else {
		s.senders[c] = snd
	}
	s.mu.Unlock()
}

// Send delivers on a single channel, honoring the shared rate limit.
func (s *Service) Send(ctx context.Context, c Channel, m Message) Result {
	s.mu.Lock()
	snd := s.senders[c]
	lim := s.limiter
	s.mu.Unlock()

	if snd == nil {
		return Result{Channel: c, Err: ErrNoSender}
	}
	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return Result{Channel: c, Err: err}
		}
	}

	delivered, err := snd.Send(ctx, m.UserID, m.Title, m.Body, m.Meta)
	return Result{Channel: c, Delivered: delivered, Err: err}
}

// Fanout delivers on every channel in order. A failing channel never stops
// the remaining channels; callers inspect the per-channel results.
func (s *Service) Fanout(ctx context.Context, channels []Channel, m Message) []Result {
	out := make([]Result, 0, len(channels))
	for _, c := range channels {
		r := s.Send(ctx, c, m)
		if r.Err != nil {
			s.log.Debug("send failed",
				logx.String("channel", string(c)),
				logx.String("user", m.UserID),
				logx.Err(r.Err))
		}
		out = append(out, r)
	}
	return out
}

// Delivered reports whether at least one channel delivered.
func Delivered(rs []Result) bool {
	for _, r := range rs {
		if r.Delivered && r.Err == nil {
			return true
		}
	}
	return false
}

// FirstErr returns the first per-channel error, if any.
func FirstErr(rs []Result) error {
	for _, r := range rs {
		if r.Err != nil {
			return r.Err
		}
	}
	return nil
}
