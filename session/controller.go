package session

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hemoline/authgate/refresh"
	"github.com/hemoline/authgate/token"
	"github.com/hemoline/authgate/tokenstore"
)

// State is the authentication state of a [Controller].
type State int

const (
	Uninitialized State = iota
	Validating
	Authenticated
	Unauthenticated
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Validating:
		return "validating"
	case Authenticated:
		return "authenticated"
	case Unauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// Listener observes state transitions.
type Listener func(from, to State)

// Config tunes a Controller.
type Config struct {
	// LivenessTimeout bounds the startup liveness check.
	LivenessTimeout time.Duration
	// ExpirySkew treats access tokens this close to exp as already expired.
	ExpirySkew time.Duration
	Logger     logrus.FieldLogger
}

func DefaultConfig() Config {
	return Config{
		LivenessTimeout: 5 * time.Second,
		ExpirySkew:      10 * time.Second,
	}
}

// Controller owns the session state and is the only component that clears
// stored tokens.
type Controller struct {
	store *tokenstore.Store
	coord *refresh.Coordinator
	api   API
	cfg   Config
	log   logrus.FieldLogger

	mu        sync.RWMutex
	state     State
	profile   *Profile
	listeners []Listener
}

// NewController wires c as the coordinator's terminal hook.
func NewController(store *tokenstore.Store, coord *refresh.Coordinator, api API, cfg Config) *Controller {
	def := DefaultConfig()
	if cfg.LivenessTimeout <= 0 {
		cfg.LivenessTimeout = def.LivenessTimeout
	}
	if cfg.ExpirySkew < 0 {
		cfg.ExpirySkew = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	c := &Controller{
		store: store,
		coord: coord,
		api:   api,
		cfg:   cfg,
		log:   cfg.Logger,
		state: Uninitialized,
	}
	coord.SetTerminal(c.expire)
	return c
}

// OnChange registers fn for every subsequent state transition. Listeners run
// synchronously, outside the controller's lock.
func (c *Controller) OnChange(fn Listener) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Profile returns the last profile fetched from the API, if any.
func (c *Controller) Profile() (Profile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.profile == nil {
		return Profile{}, false
	}
	return *c.profile, true
}

// Identity decodes the currently stored access token.
func (c *Controller) Identity(ctx context.Context) (token.Identity, error) {
	return c.store.Identity(ctx)
}

// Start validates persisted credentials. Storage failures are returned; auth
// outcomes are reported through State.
func (c *Controller) Start(ctx context.Context) error {
	c.transition(Validating)

	pair, ok, err := c.store.Load(ctx)
	if err != nil {
		c.transition(Unauthenticated)
		return err
	}
	if !ok {
		c.transition(Unauthenticated)
		return nil
	}

	if c.store.Expired(pair.AccessToken, c.cfg.ExpirySkew) {
		if _, err := c.coord.Refresh(ctx, pair.AccessToken); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				// A rejected refresh may already have ended the session.
				if c.State() != Unauthenticated {
					c.transition(Uninitialized)
				}
				return ctxErr
			}
			c.observe(ctx, err)
			return nil
		}
	}

	checkCtx, cancel := context.WithTimeout(ctx, c.cfg.LivenessTimeout)
	defer cancel()

	profile, err := c.api.Profile(checkCtx)
	switch {
	case err == nil:
		c.authenticate(&profile)
	case endsSession(err):
		c.observe(ctx, err)
	default:
		c.log.WithError(err).Warn("session: liveness check failed, keeping session")
		c.authenticate(nil)
	}
	return nil
}

func (c *Controller) Login(ctx context.Context, creds Credentials) error {
	pair, err := c.api.Login(ctx, creds)
	if err != nil {
		return err
	}
	if err := c.store.Persist(ctx, pair); err != nil {
		return err
	}
	c.authenticate(nil)
	return nil
}

// Register creates an account. It reports whether the response carried a
// session; without one the state is left unchanged.
func (c *Controller) Register(ctx context.Context, reg Registration) (bool, error) {
	pair, err := c.api.Register(ctx, reg)
	if err != nil {
		return false, err
	}
	if pair.AccessToken == "" {
		return false, nil
	}
	if err := c.store.Persist(ctx, pair); err != nil {
		return false, err
	}
	c.authenticate(nil)
	return true, nil
}

// Logout clears local state even when the API call fails; that error is still
// returned.
func (c *Controller) Logout(ctx context.Context) error {
	refreshToken, err := c.store.RefreshToken(ctx)
	if err == nil {
		err = c.api.Logout(ctx, refreshToken)
	}
	c.expire(ctx, nil)
	return err
}

func (c *Controller) UpdateProfile(ctx context.Context, update ProfileUpdate) (Profile, error) {
	if c.State() != Authenticated {
		return Profile{}, ErrNotAuthenticated
	}
	profile, err := c.api.UpdateProfile(ctx, update)
	if err != nil {
		c.observe(ctx, err)
		return Profile{}, err
	}
	c.mu.Lock()
	c.profile = &profile
	c.mu.Unlock()
	return profile, nil
}

func (c *Controller) ForgotPassword(ctx context.Context, email string) error {
	return c.api.ForgotPassword(ctx, email)
}

func (c *Controller) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	return c.api.ResetPassword(ctx, resetToken, newPassword)
}

// ChangePassword logs out locally after success: the server revokes every
// refresh token of the subject.
func (c *Controller) ChangePassword(ctx context.Context, currentPassword, newPassword string) error {
	if c.State() != Authenticated {
		return ErrNotAuthenticated
	}
	if err := c.api.ChangePassword(ctx, currentPassword, newPassword); err != nil {
		c.observe(ctx, err)
		return err
	}
	c.expire(ctx, nil)
	return nil
}

// observe expires the session for errors that end it, unless the refresh
// coordinator's terminal hook already did.
func (c *Controller) observe(ctx context.Context, err error) {
	if endsSession(err) && c.State() != Unauthenticated {
		c.expire(ctx, err)
	}
}

func (c *Controller) authenticate(profile *Profile) {
	c.mu.Lock()
	c.profile = profile
	c.mu.Unlock()
	c.transition(Authenticated)
}

// expire clears both tokens and moves to Unauthenticated. It is the refresh
// coordinator's terminal hook.
func (c *Controller) expire(ctx context.Context, cause error) {
	if err := c.store.Clear(context.WithoutCancel(ctx)); err != nil {
		c.log.WithError(err).Error("session: clearing tokens failed")
	}
	if cause != nil {
		c.log.WithError(cause).Info("session: ended")
	}

	c.mu.Lock()
	c.profile = nil
	c.mu.Unlock()
	c.transition(Unauthenticated)
}

func (c *Controller) transition(to State) {
	c.mu.Lock()
	from := c.state
	if from == to {
		c.mu.Unlock()
		return
	}
	c.state = to
	listeners := append([]Listener(nil), c.listeners...)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(from, to)
	}
}
