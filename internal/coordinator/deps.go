package coordinator

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ihiteshgupta/call-coordinator/internal/config"
	"github.com/ihiteshgupta/call-coordinator/internal/media"
	"github.com/ihiteshgupta/call-coordinator/internal/presence"
	"github.com/ihiteshgupta/call-coordinator/internal/store"
	"github.com/ihiteshgupta/call-coordinator/internal/wake"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the wall-clock time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// IDGenerator creates call ids.
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces random UUIDv4 strings.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.New().String() }

// Deps are the collaborators a coordinator drives. Records, Signals, Media
// and Telephony are required.
type Deps struct {
	Records   store.RecordRepository
	Signals   store.SignalRepository
	Pending   store.PendingRepository
	History   store.StateRepository
	Presence  presence.Tracker
	Media     media.Engine
	Telephony wake.Telephony
	Alerter   wake.Alerter
	Pusher    wake.Pusher
	Clock     Clock
	IDs       IDGenerator
}

func (d *Deps) validate() error {
	var errs []error
	if d.Records == nil {
		errs = append(errs, errors.New("record store is required"))
	}
	if d.Signals == nil {
		errs = append(errs, errors.New("signal relay is required"))
	}
	if d.Media == nil {
		errs = append(errs, errors.New("media engine is required"))
	}
	if d.Telephony == nil {
		errs = append(errs, errors.New("telephony is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	if d.Alerter == nil {
		d.Alerter = wake.NewLogAlerter()
	}
	if d.Pusher == nil {
		d.Pusher = wake.NewLogPusher()
	}
	if d.Clock == nil {
		d.Clock = RealClock{}
	}
	if d.IDs == nil {
		d.IDs = UUIDGenerator{}
	}
	return nil
}

// Options configures one coordinator instance.
type Options struct {
	UserID      string
	DisplayName string

	RingTimeout        time.Duration
	AnswerWaitTimeout  time.Duration
	AnswerPollInterval time.Duration
	ConnectTimeout     time.Duration
	OpTimeout          time.Duration

	ResubscribeBaseDelay time.Duration
	ResubscribeMaxDelay  time.Duration

	QueueSize int
}

// DefaultOptions returns the production timeouts.
func DefaultOptions(userID string) Options {
	return Options{
		UserID:               userID,
		RingTimeout:          45 * time.Second,
		AnswerWaitTimeout:    10 * time.Second,
		AnswerPollInterval:   500 * time.Millisecond,
		ConnectTimeout:       30 * time.Second,
		OpTimeout:            10 * time.Second,
		ResubscribeBaseDelay: time.Second,
		ResubscribeMaxDelay:  time.Minute,
		QueueSize:            256,
	}
}

// OptionsFromConfig builds options from loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	opts := DefaultOptions(cfg.UserID)
	opts.DisplayName = cfg.DisplayName
	opts.RingTimeout = cfg.RingTimeout
	opts.AnswerWaitTimeout = cfg.AnswerWaitTimeout
	opts.AnswerPollInterval = cfg.AnswerPollInterval
	opts.ConnectTimeout = cfg.ConnectTimeout
	opts.OpTimeout = cfg.OpTimeout
	opts.ResubscribeBaseDelay = cfg.ResubscribeBaseDelay
	opts.ResubscribeMaxDelay = cfg.ResubscribeMaxDelay
	return opts
}

func (o *Options) validate() error {
	if o.UserID == "" {
		return errors.New("user id is required")
	}
	if o.RingTimeout <= 0 || o.AnswerWaitTimeout <= 0 || o.ConnectTimeout <= 0 || o.OpTimeout <= 0 {
		return errors.New("timeouts must be positive")
	}
	if o.AnswerPollInterval <= 0 {
		o.AnswerPollInterval = 500 * time.Millisecond
	}
	if o.ResubscribeBaseDelay <= 0 {
		o.ResubscribeBaseDelay = time.Second
	}
	if o.ResubscribeMaxDelay < o.ResubscribeBaseDelay {
		o.ResubscribeMaxDelay = o.ResubscribeBaseDelay
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.DisplayName == "" {
		o.DisplayName = o.UserID
	}
	return nil
}
