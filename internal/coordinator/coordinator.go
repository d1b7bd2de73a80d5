// Package coordinator polls one Airzone controller, publishes each poll as an
// immutable snapshot and exposes the read and write API every downstream surface
// (REST, MQTT, metrics) is built on.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/airzone-controller/internal/airzone"
	"github.com/thatsimonsguy/airzone-controller/internal/model"
)

const (
	DefaultInterval         = 5 * time.Second
	MinInterval             = 5 * time.Second
	DefaultFailureThreshold = 3
	DefaultRefreshCooldown  = time.Second
	// EndpointResetFailures consecutive failed polls make the coordinator look
	// for the endpoint again.
	EndpointResetFailures = 3
)

// Client is the part of *airzone.Client the coordinator needs.
type Client interface {
	Host() string
	Port() int
	Probe(ctx context.Context) airzone.Endpoint
	CurrentEndpoint() (airzone.Endpoint, bool)
	SetEndpoint(ep airzone.Endpoint)
	ResetEndpoint()
	Version(ctx context.Context) (string, bool)
	Zones(ctx context.Context) ([]model.Payload, string, error)
	System(ctx context.Context, systemID int) (model.Payload, bool)
	Webserver(ctx context.Context) (model.Payload, bool)
	IAQs(ctx context.Context) ([]model.Payload, string)
	SetZone(ctx context.Context, systemID, zoneID int, fields map[string]any) (any, error)
	SetIAQ(ctx context.Context, systemID, iaqID int, fields map[string]any) (any, error)
	SetSystem(ctx context.Context, systemID int, fields map[string]any) (any, error)
	Close() error
}

// Notifier sends operator notifications
type Notifier interface {
	Send(title, message string) error
}

// Store persists the little state worth keeping across restarts.
type Store interface {
	// LoadFollowMaster returns every system with a stored setting, enabled or not.
	LoadFollowMaster() (map[int]bool, error)
	SaveFollowMaster(systemID int, enabled bool) error
	LoadEndpoint() (airzone.Endpoint, bool, error)
	SaveEndpoint(ep airzone.Endpoint) error
}

type Options struct {
	// Interval between polls, clamped to MinInterval.
	Interval time.Duration
	// RefreshCooldown is the minimum gap between the end of one cycle and a
	// requested refresh.
	RefreshCooldown time.Duration
	// FailureThreshold is the number of consecutive failed polls that triggers an
	// "unreachable" notification.
	FailureThreshold int
	Notifier         Notifier
	Store            Store
	MasterResolver   MasterResolver
	// FollowMaster lists systems that start with follow-master enabled. A setting
	// saved in the store overrides it either way.
	FollowMaster []int
}

// Status describes the outcome of the most recent poll cycles.
type Status struct {
	LastUpdateSuccess   bool      `json:"last_update_success"`
	LastAttempt         time.Time `json:"last_attempt"`
	LastSuccess         time.Time `json:"last_success"`
	LastError           string    `json:"last_error,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	UpdateInterval      string    `json:"update_interval"`
}

type Coordinator struct {
	client           Client
	interval         time.Duration
	cooldown         time.Duration
	failureThreshold int
	notifier         Notifier
	store            Store
	master           MasterResolver

	mu                  sync.RWMutex
	snapshot            *model.Snapshot
	lastSuccess         bool
	lastAttempt         time.Time
	lastSuccessAt       time.Time
	lastErr             error
	consecutiveFailures int
	alerted             bool
	follow              map[int]bool
	enforced            map[int]*model.Snapshot
	subs                map[int]func(*model.Snapshot)
	nextSub             int
	lastCycleEnd        time.Time
	closing             bool

	// Only touched while refreshMu is held.
	refreshMu      sync.Mutex
	version        string
	versionChecked bool
	savedEndpoint  airzone.Endpoint

	refreshReq chan struct{}
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	startOnce  sync.Once
	closeOnce  sync.Once
}

func New(client Client, opts Options) *Coordinator {
	interval := opts.Interval
	if interval == 0 {
		interval = DefaultInterval
	}
	if interval < MinInterval {
		interval = MinInterval
	}
	cooldown := opts.RefreshCooldown
	if cooldown <= 0 {
		cooldown = DefaultRefreshCooldown
	}
	threshold := opts.FailureThreshold
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	master := opts.MasterResolver
	if master == nil {
		master = MasterResolverFunc(HeuristicMaster)
	}

	follow := make(map[int]bool)
	for _, sid := range opts.FollowMaster {
		follow[sid] = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		client:           client,
		interval:         interval,
		cooldown:         cooldown,
		failureThreshold: threshold,
		notifier:         opts.Notifier,
		store:            opts.Store,
		master:           master,
		snapshot:         model.NewSnapshot(),
		follow:           follow,
		enforced:         make(map[int]*model.Snapshot),
		subs:             make(map[int]func(*model.Snapshot)),
		refreshReq:       make(chan struct{}, 1),
		ctx:              ctx,
		cancel:           cancel,
	}
}

func (c *Coordinator) Interval() time.Duration { return c.interval }

// Start restores persisted state, runs the first poll and starts the poll loop.
// The loop keeps running when the first poll fails; its error is returned so the
// caller can decide whether to carry on.
func (c *Coordinator) Start(ctx context.Context) error {
	if c.ctx.Err() != nil {
		return airzone.ErrClosed
	}

	var err error
	c.startOnce.Do(func() {
		c.restore()

		log.Info().
			Str("host", c.client.Host()).
			Int("port", c.client.Port()).
			Dur("interval", c.interval).
			Msg("Starting Airzone coordinator")

		err = c.Refresh(ctx)

		c.wg.Add(1)
		go c.loop()
	})
	return err
}

func (c *Coordinator) restore() {
	if c.store == nil {
		return
	}

	settings, err := c.store.LoadFollowMaster()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load follow-master systems")
	} else {
		c.mu.Lock()
		for sid, enabled := range settings {
			if enabled {
				c.follow[sid] = true
			} else {
				delete(c.follow, sid)
			}
		}
		c.mu.Unlock()
	}

	ep, ok, err := c.store.LoadEndpoint()
	switch {
	case err != nil:
		log.Error().Err(err).Msg("Failed to load saved endpoint")
	case ok:
		c.client.SetEndpoint(ep)
		c.refreshMu.Lock()
		c.savedEndpoint = ep
		c.refreshMu.Unlock()
		log.Info().Str("scheme", ep.Scheme).Str("api_prefix", ep.Prefix).Msg("Restored saved endpoint")
	}
}

func (c *Coordinator) loop() {
	defer c.wg.Done()

	timer := time.NewTimer(c.interval)
	defer timer.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-timer.C:
		case <-c.refreshReq:
			if !c.waitCooldown() {
				return
			}
		}

		if err := c.Refresh(c.ctx); err != nil && !errors.Is(err, airzone.ErrClosed) && c.ctx.Err() == nil {
			log.Error().Err(err).Msg("Airzone poll failed")
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(c.interval)
	}
}

func (c *Coordinator) waitCooldown() bool {
	c.mu.RLock()
	wait := c.cooldown - time.Since(c.lastCycleEnd)
	c.mu.RUnlock()
	if wait <= 0 {
		return true
	}
	select {
	case <-c.ctx.Done():
		return false
	case <-time.After(wait):
		return true
	}
}

// RequestRefresh asks the poll loop for an early cycle without waiting for it.
// Requests made while one is already pending are merged.
func (c *Coordinator) RequestRefresh() {
	if c.ctx.Err() != nil {
		return
	}
	select {
	case c.refreshReq <- struct{}{}:
	default:
	}
}

// Close stops the poll loop, aborts in-flight requests and waits for background
// work. Calling it more than once is harmless.
func (c *Coordinator) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closing = true
		c.mu.Unlock()
		c.cancel()
		err = c.client.Close()
		c.wg.Wait()
		log.Info().Str("host", c.client.Host()).Msg("Airzone coordinator stopped")
	})
	return err
}

// Subscribe registers fn to receive every successfully published snapshot. fn
// runs on the poll goroutine and must not block. The returned func unsubscribes.
func (c *Coordinator) Subscribe(fn func(*model.Snapshot)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

func (c *Coordinator) LastUpdateSuccess() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSuccess
}

func (c *Coordinator) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Status{
		LastUpdateSuccess:   c.lastSuccess,
		LastAttempt:         c.lastAttempt,
		LastSuccess:         c.lastSuccessAt,
		ConsecutiveFailures: c.consecutiveFailures,
		UpdateInterval:      c.interval.String(),
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}

// recordOutcome updates poll bookkeeping and sends unreachable/recovered
// notifications on threshold crossings.
func (c *Coordinator) recordOutcome(err error) {
	c.mu.Lock()
	c.lastAttempt = time.Now()
	c.lastErr = err
	c.lastSuccess = err == nil

	var title, message string
	if err == nil {
		c.lastSuccessAt = c.lastAttempt
		if c.alerted {
			title = "Airzone Controller Recovered"
			message = fmt.Sprintf("%s responding again after %d failed polls", c.client.Host(), c.consecutiveFailures)
			c.alerted = false
		}
		c.consecutiveFailures = 0
	} else {
		c.consecutiveFailures++
		if c.consecutiveFailures == c.failureThreshold && !c.alerted {
			title = "Airzone Controller Unreachable"
			message = fmt.Sprintf("%s failed %d consecutive polls: %v", c.client.Host(), c.consecutiveFailures, err)
			c.alerted = true
		}
	}
	c.mu.Unlock()

	if title == "" || c.notifier == nil {
		return
	}
	if nerr := c.notifier.Send(title, message); nerr != nil {
		log.Error().Err(nerr).Str("title", title).Msg("Failed to send controller notification")
	}
}
