// Package replay turns historical market data into the ordered lifecycle events that drive a
// backtest: start, per sub-session day begin and end, ticks or bars, and end.
package replay

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/coachpo/meltica-replay/errs"
	"github.com/coachpo/meltica-replay/internal/schema"
)

const component = "replay"

// Mode selects which record stream drives the replay.
type Mode string

const (
	// ModeTick replays ticks.
	ModeTick Mode = "tick"
	// ModeBar replays bars.
	ModeBar Mode = "bar"
)

// Config describes what a channel replays.
type Config struct {
	DriveInstrument string
	// Instruments are replayed alongside the drive instrument. The drive instrument is dropped
	// from the list if present.
	Instruments []string
	Window      schema.TradingWindow
	BarInterval int
	BarType     schema.BarType
	Mode        Mode
	// SplitSessions emits the night session and the day session of a trading day as two
	// sub-sessions when the drive instrument trades at night.
	SplitSessions bool
}

// TradingDays enumerates the trading days of a window.
type TradingDays interface {
	TradingDays(start, end time.Time) []time.Time
}

// Option configures a Channel.
type Option func(*Channel)

// WithDirectory supplies session times, required when sessions are split.
func WithDirectory(dir schema.InstrumentDirectory) Option {
	return func(c *Channel) {
		c.directory = dir
	}
}

// WithLogger overrides the default logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Channel) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Channel emits replay events synchronously into one callback per event kind.
type Channel struct {
	cfg       Config
	source    Source
	days      TradingDays
	directory schema.InstrumentDirectory
	logger    logrus.FieldLogger

	callbacks [schema.QuoteEventKindCount]schema.QuoteCallback
	started   bool
}

// NewChannel validates cfg and builds a channel.
func NewChannel(cfg Config, source Source, days TradingDays, opts ...Option) (*Channel, error) {
	cfg.DriveInstrument = strings.TrimSpace(cfg.DriveInstrument)
	if cfg.DriveInstrument == "" {
		return nil, errs.Required(component, "drive instrument")
	}
	if source == nil {
		return nil, errs.Required(component, "source")
	}
	if days == nil {
		return nil, errs.Required(component, "trading days")
	}
	if cfg.Window.Start().IsZero() || cfg.Window.End().IsZero() {
		return nil, errs.Required(component, "window")
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeBar
	}
	if cfg.Mode != ModeTick && cfg.Mode != ModeBar {
		return nil, errs.New(component, errs.CodeInvalid, errs.WithMessage("unsupported mode"),
			errs.WithField("mode", string(cfg.Mode)))
	}
	if cfg.Mode == ModeBar && cfg.BarType != "" && !cfg.BarType.Valid() {
		return nil, errs.New(component, errs.CodeInvalid, errs.WithMessage("unsupported bar type"),
			errs.WithField("bar_type", string(cfg.BarType)))
	}
	instruments := make([]string, 0, len(cfg.Instruments))
	seen := map[string]struct{}{cfg.DriveInstrument: {}}
	for _, id := range cfg.Instruments {
		id = strings.TrimSpace(id)
		if _, dup := seen[id]; dup || id == "" {
			continue
		}
		seen[id] = struct{}{}
		instruments = append(instruments, id)
	}
	cfg.Instruments = instruments

	c := &Channel{cfg: cfg, source: source, days: days, logger: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(c)
	}
	if cfg.SplitSessions && c.directory == nil {
		return nil, errs.Required(component, "instrument directory")
	}
	return c, nil
}

// Config returns the normalised configuration.
func (c *Channel) Config() Config { return c.cfg }

// RegisterEvent installs the callback for kind. Each kind accepts exactly one callback.
func (c *Channel) RegisterEvent(kind schema.QuoteEventKind, cb schema.QuoteCallback) error {
	if !kind.Valid() {
		return errs.New(component, errs.CodeInvalid, errs.WithMessage("unknown quote event kind"),
			errs.WithField("kind", strconv.Itoa(int(kind))))
	}
	if cb == nil {
		return errs.Required(component, "callback")
	}
	if c.callbacks[kind] != nil {
		return errs.New(component, errs.CodeConflict, errs.WithMessage("callback already registered"),
			errs.WithField("kind", kind.String()))
	}
	c.callbacks[kind] = cb
	return nil
}

func (c *Channel) emit(ctx context.Context, evt schema.QuoteEvent) error {
	cb := c.callbacks[evt.Kind]
	if cb == nil {
		return nil
	}
	return cb(ctx, evt)
}

// Start replays the whole window, returning when the data is exhausted, a callback fails or
// ctx is cancelled. A channel replays once.
func (c *Channel) Start(ctx context.Context) error {
	if c.started {
		return errs.New(component, errs.CodeConflict, errs.WithMessage("channel already started"))
	}
	c.started = true

	if err := c.emit(ctx, schema.QuoteEvent{Kind: schema.QuoteEventStart}); err != nil {
		return err
	}
	for _, day := range c.days.TradingDays(c.cfg.Window.Start(), c.cfg.Window.End()) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.replayDay(ctx, day); err != nil {
			return err
		}
	}
	return c.emit(ctx, schema.QuoteEvent{Kind: schema.QuoteEventEnd})
}

type session struct {
	begin time.Time
	until time.Time
}

// sessions splits a trading day. The first sub-session always begins at the trading day's
// midnight.
func (c *Channel) sessions(day time.Time) ([]session, error) {
	whole := []session{{begin: day}}
	if !c.cfg.SplitSessions {
		return whole, nil
	}
	tt, err := c.directory.TradingTime(day, c.cfg.DriveInstrument)
	if err != nil {
		return nil, fmt.Errorf("trading time for %s: %w", c.cfg.DriveInstrument, err)
	}
	if !tt.HasNightSession {
		return whole, nil
	}
	return []session{{begin: day, until: tt.DayAMOpen}, {begin: tt.DayAMOpen}}, nil
}

func (c *Channel) replayDay(ctx context.Context, day time.Time) error {
	sessions, err := c.sessions(day)
	if err != nil {
		return err
	}
	switch c.cfg.Mode {
	case ModeTick:
		return c.replayTicks(ctx, day, sessions)
	default:
		return c.replayBars(ctx, day, sessions)
	}
}

func (c *Channel) replayTicks(ctx context.Context, day time.Time, sessions []session) error {
	drive, err := c.source.Ticks(ctx, c.cfg.DriveInstrument, day)
	if err != nil {
		return fmt.Errorf("load ticks %s %s: %w", c.cfg.DriveInstrument, day.Format(time.DateOnly), err)
	}
	cursors := make([]*cursor[schema.Tick], 0, len(c.cfg.Instruments))
	for _, id := range c.cfg.Instruments {
		ticks, err := c.source.Ticks(ctx, id, day)
		if err != nil {
			return fmt.Errorf("load ticks %s %s: %w", id, day.Format(time.DateOnly), err)
		}
		cursors = append(cursors, newCursor(ticks, func(t schema.Tick) time.Time { return t.Timestamp }))
	}

	idx := 0
	for _, s := range sessions {
		if err := c.emit(ctx, schema.QuoteEvent{Kind: schema.QuoteEventDayBegin, Date: s.begin}); err != nil {
			return err
		}
		for ; idx < len(drive) && (s.until.IsZero() || drive[idx].Timestamp.Before(s.until)); idx++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			tick := drive[idx]
			replay := make([]schema.Tick, 0, len(cursors))
			for _, cur := range cursors {
				if latest, ok := cur.advance(tick.Timestamp); ok {
					replay = append(replay, latest)
				}
			}
			if err := c.emit(ctx, schema.QuoteEvent{Kind: schema.QuoteEventTick, Date: day, Tick: tick, ReplayTicks: replay}); err != nil {
				return err
			}
		}
		if err := c.emit(ctx, schema.QuoteEvent{Kind: schema.QuoteEventDayEnd, Date: day}); err != nil {
			return err
		}
	}
	c.logger.WithFields(logrus.Fields{
		"trading_date": day.Format(time.DateOnly),
		"instrument":   c.cfg.DriveInstrument,
		"ticks":        len(drive),
	}).Debug("replayed trading day")
	return nil
}

func (c *Channel) replayBars(ctx context.Context, day time.Time, sessions []session) error {
	drive, err := c.source.Bars(ctx, c.cfg.DriveInstrument, day, c.cfg.BarInterval, c.cfg.BarType)
	if err != nil {
		return fmt.Errorf("load bars %s %s: %w", c.cfg.DriveInstrument, day.Format(time.DateOnly), err)
	}
	cursors := make([]*cursor[schema.Bar], 0, len(c.cfg.Instruments))
	for _, id := range c.cfg.Instruments {
		bars, err := c.source.Bars(ctx, id, day, c.cfg.BarInterval, c.cfg.BarType)
		if err != nil {
			return fmt.Errorf("load bars %s %s: %w", id, day.Format(time.DateOnly), err)
		}
		cursors = append(cursors, newCursor(bars, schema.Bar.Timestamp))
	}

	idx := 0
	for _, s := range sessions {
		if err := c.emit(ctx, schema.QuoteEvent{Kind: schema.QuoteEventDayBegin, Date: s.begin}); err != nil {
			return err
		}
		for ; idx < len(drive) && (s.until.IsZero() || drive[idx].Timestamp().Before(s.until)); idx++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			bar := drive[idx]
			replay := make([]schema.Bar, 0, len(cursors))
			for _, cur := range cursors {
				if latest, ok := cur.advance(bar.Timestamp()); ok {
					replay = append(replay, latest)
				}
			}
			if err := c.emit(ctx, schema.QuoteEvent{Kind: schema.QuoteEventBar, Date: day, Bar: bar, ReplayBars: replay}); err != nil {
				return err
			}
		}
		if err := c.emit(ctx, schema.QuoteEvent{Kind: schema.QuoteEventDayEnd, Date: day}); err != nil {
			return err
		}
	}
	c.logger.WithFields(logrus.Fields{
		"trading_date": day.Format(time.DateOnly),
		"instrument":   c.cfg.DriveInstrument,
		"bars":         len(drive),
	}).Debug("replayed trading day")
	return nil
}

// cursor walks one replay instrument's records in step with the drive instrument.
type cursor[T any] struct {
	records []T
	at      func(T) time.Time
	next    int
}

func newCursor[T any](records []T, at func(T) time.Time) *cursor[T] {
	return &cursor[T]{records: records, at: at}
}

// advance consumes every record at or before ts and returns the latest of them.
func (c *cursor[T]) advance(ts time.Time) (T, bool) {
	var latest T
	found := false
	for c.next < len(c.records) && !c.at(c.records[c.next]).After(ts) {
		latest = c.records[c.next]
		found = true
		c.next++
	}
	return latest, found
}
