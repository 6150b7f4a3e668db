package pulse

import (
	"math"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	logx "pulse/pkg/logx"
)

const (
	// MinInterval and MaxInterval bound Config.Interval (millisecond granularity).
	MinInterval = 10 * time.Millisecond
	MaxInterval = time.Duration(math.MaxInt32) * time.Millisecond

	defaultName = "pulse"
)

type (
	// PulseFunc is the per-cycle user callback. A returned error, or a panic,
	// is reported to OnError and the loop continues.
	PulseFunc func(p *Pulse, c Context) (any, error)
	// ErrorFunc receives OnPulse failures. In NoMeta mode c is a Seq; otherwise it
	// is the cycle's *Meta and err equals its Err().
	ErrorFunc func(p *Pulse, c Context, err error)
	// HookFunc runs after every cycle. A returned error, or a panic, stops the pulse.
	HookFunc func(p *Pulse, c Context) error
	// LifecycleFunc observes Start and Stop transitions.
	LifecycleFunc func(p *Pulse)
	// FatalFunc receives the error that ended the loop.
	FatalFunc func(p *Pulse, err error)
	// NowFunc is the time source used for grid alignment and metadata.
	NowFunc func() time.Time
)

// Config configures a Pulse.
//
// OnPulse and Interval are required. Offset must be smaller than Interval.
// Zero values of the other fields select the documented defaults.
type Config struct {
	Name string

	OnPulse  PulseFunc
	Interval time.Duration
	Offset   time.Duration

	GetNow     NowFunc
	OnError    ErrorFunc
	AfterPulse HookFunc
	OnStart    LifecycleFunc
	OnStop     LifecycleFunc
	OnFatal    FatalFunc

	AutoStart bool
	NoMeta    bool

	// Clock arms the cycle timers. Defaults to the real clock.
	Clock  clockwork.Clock
	Logger logx.Logger
}

// Options is the loosely typed form of Config, keyed by option name
// (e.g. decoded from a config file). Numbers are milliseconds.
type Options map[string]any

const (
	optName       = "name"
	optOnPulse    = "onPulse"
	optInterval   = "interval"
	optOffset     = "offset"
	optGetNow     = "getNow"
	optOnError    = "onError"
	optAfterPulse = "afterPulse"
	optOnStart    = "onStart"
	optOnStop     = "onStop"
	optOnFatal    = "onFatal"
	optAutoStart  = "autoStart"
	optNoMeta     = "noMeta"
	optClock      = "clock"
	optLogger     = "logger"
)

var knownOptions = map[string]struct{}{
	optName: {}, optOnPulse: {}, optInterval: {}, optOffset: {}, optGetNow: {},
	optOnError: {}, optAfterPulse: {}, optOnStart: {}, optOnStop: {}, optOnFatal: {},
	optAutoStart: {}, optNoMeta: {}, optClock: {}, optLogger: {},
}

// options maps the typed fields onto the Options bag so both constructors
// share one validation path. Zero durations count as absent.
func (c Config) options() Options {
	o := Options{
		optName:       c.Name,
		optOnPulse:    c.OnPulse,
		optGetNow:     c.GetNow,
		optOnError:    c.OnError,
		optAfterPulse: c.AfterPulse,
		optOnStart:    c.OnStart,
		optOnStop:     c.OnStop,
		optOnFatal:    c.OnFatal,
		optAutoStart:  c.AutoStart,
		optNoMeta:     c.NoMeta,
		optClock:      c.Clock,
	}
	if c.Interval != 0 {
		o[optInterval] = c.Interval
	}
	if c.Offset != 0 {
		o[optOffset] = c.Offset
	}
	if !c.Logger.IsZero() {
		o[optLogger] = c.Logger
	}
	return o
}

// settings is the validated, defaulted and immutable form of a Config.
type settings struct {
	name     string
	interval int64 // ms
	offset   int64 // ms

	onPulse    PulseFunc
	getNow     NowFunc
	onError    ErrorFunc
	afterPulse HookFunc
	onStart    LifecycleFunc
	onStop     LifecycleFunc
	onFatal    FatalFunc

	autoStart bool
	noMeta    bool

	clock clockwork.Clock
	log   logx.Logger
}

func compile(o Options) (settings, error) {
	var s settings
	for k := range o {
		if _, ok := knownOptions[k]; !ok {
			return settings{}, &UnknownOptionError{Key: k}
		}
	}

	var err error
	if s.onPulse, _, err = valid[PulseFunc](o[optOnPulse], true, optOnPulse); err != nil {
		return settings{}, err
	}
	if s.interval, _, err = validRange(MinInterval.Milliseconds(), MaxInterval.Milliseconds(), o[optInterval], true, optInterval); err != nil {
		return settings{}, err
	}
	if s.offset, _, err = validRange(0, s.interval-1, o[optOffset], false, optOffset); err != nil {
		return settings{}, err
	}
	if s.name, _, err = valid[string](o[optName], false, optName); err != nil {
		return settings{}, err
	}
	if s.getNow, _, err = valid[NowFunc](o[optGetNow], false, optGetNow); err != nil {
		return settings{}, err
	}
	if s.onError, _, err = valid[ErrorFunc](o[optOnError], false, optOnError); err != nil {
		return settings{}, err
	}
	if s.afterPulse, _, err = valid[HookFunc](o[optAfterPulse], false, optAfterPulse); err != nil {
		return settings{}, err
	}
	if s.onStart, _, err = valid[LifecycleFunc](o[optOnStart], false, optOnStart); err != nil {
		return settings{}, err
	}
	if s.onStop, _, err = valid[LifecycleFunc](o[optOnStop], false, optOnStop); err != nil {
		return settings{}, err
	}
	if s.onFatal, _, err = valid[FatalFunc](o[optOnFatal], false, optOnFatal); err != nil {
		return settings{}, err
	}
	if s.autoStart, _, err = valid[bool](o[optAutoStart], false, optAutoStart); err != nil {
		return settings{}, err
	}
	if s.noMeta, _, err = valid[bool](o[optNoMeta], false, optNoMeta); err != nil {
		return settings{}, err
	}
	if s.clock, _, err = valid[clockwork.Clock](o[optClock], false, optClock); err != nil {
		return settings{}, err
	}
	if s.log, _, err = valid[logx.Logger](o[optLogger], false, optLogger); err != nil {
		return settings{}, err
	}

	// Defaults.
	s.name = strings.TrimSpace(s.name)
	if s.name == "" {
		s.name = defaultName
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.getNow == nil {
		s.getNow = s.clock.Now
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s, nil
}
