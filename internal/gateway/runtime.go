// Package gateway ties one configured gateway together: its entry (and
// token), the resource client, the snapshot coordinator and the entity
// catalog. A Runtime is the per-device context object; the Registry holds
// the runtimes of a running daemon.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/CaseyRo/ha-bosch/internal/coordinator"
	"github.com/CaseyRo/ha-bosch/internal/entity"
	"github.com/CaseyRo/ha-bosch/internal/entry"
	"github.com/CaseyRo/ha-bosch/internal/oauth"
	"github.com/CaseyRo/ha-bosch/internal/pointtapi"
)

// ConnectionCheckPath is fetched once during setup to prove the token and
// device id work before polling starts.
const ConnectionCheckPath = "/gateway/DateTime"

// ErrNotReady means setup failed for a reason that may go away on its own
// (gateway offline, vendor API down). Retry later.
var ErrNotReady = errors.New("gateway: not ready")

// Options configures a Runtime.
type Options struct {
	APIBase     string
	HTTPClient  *http.Client // per-request timeout comes from its Timeout
	Tokens      *oauth.Manager
	Coordinator coordinator.Options
}

// Runtime is the live state of one gateway.
type Runtime struct {
	store    *entry.FileStore
	client   *pointtapi.Client
	coord    *coordinator.Coordinator
	entities []entity.Entity
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	runErr error
}

// New builds the runtime for the entry in store. Nothing touches the
// network until Setup.
func New(store *entry.FileStore, opts Options, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}

	e := store.Entry()
	logger = logger.With(slog.String("device", e.DeviceID))

	src := oauth.NewSource(opts.Tokens, store)
	client := pointtapi.NewClient(opts.APIBase, e.DeviceID, opts.HTTPClient, src, logger)

	copts := opts.Coordinator
	copts.Name = e.DeviceID

	return &Runtime{
		store:    store,
		client:   client,
		coord:    coordinator.New(client, copts, logger),
		entities: entity.Catalog(e.ID, e.DeviceID),
		logger:   logger,
	}
}

// DeviceID is the gateway serial number.
func (r *Runtime) DeviceID() string { return r.store.Entry().DeviceID }

// Entry returns a copy of the current entry, token included.
func (r *Runtime) Entry() entry.Entry { return r.store.Entry() }

// Client is the resource client for ad-hoc reads and writes.
func (r *Runtime) Client() *pointtapi.Client { return r.client }

// Coordinator is the snapshot owner.
func (r *Runtime) Coordinator() *coordinator.Coordinator { return r.coord }

// Entities is the entity catalog of this gateway.
func (r *Runtime) Entities() []entity.Entity { return r.entities }

// Device is the registry record of the gateway itself.
func (r *Runtime) Device() entity.Device { return entity.GatewayDevice(r.DeviceID()) }

// Setup checks connectivity and runs the first poll cycle. Authorization
// failures are returned as-is; everything else is wrapped in ErrNotReady.
func (r *Runtime) Setup(ctx context.Context) error {
	if _, err := r.client.Get(ctx, ConnectionCheckPath); err != nil {
		if coordinator.IsAuthFailure(err) {
			return err
		}

		return fmt.Errorf("%w: connection check: %w", ErrNotReady, err)
	}

	if _, err := r.coord.Refresh(ctx); err != nil {
		if coordinator.IsAuthFailure(err) || ctx.Err() != nil {
			return err
		}

		return fmt.Errorf("%w: first refresh: %w", ErrNotReady, err)
	}

	r.logger.Info("gateway ready", slog.Int("paths", r.coord.Snapshot().Len()))

	return nil
}

// Start runs the poll loop in the background until Stop or ctx ends.
// Calling Start twice is a no-op.
func (r *Runtime) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done != nil {
		return
	}

	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)

		err := r.coord.Run(ctx)

		r.mu.Lock()
		r.runErr = err
		r.mu.Unlock()
	}()
}

// Wait blocks until the poll loop ends and returns its error: nil after
// Stop, the authorization failure that stopped it otherwise.
func (r *Runtime) Wait() error {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()

	if done == nil {
		return nil
	}

	<-done

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.runErr
}

// Stop cancels the poll loop and waits for it.
func (r *Runtime) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	_ = r.Wait() //nolint:errcheck // teardown; the loop's error was already logged
}

// Put writes one value. It implements entity.Writer.
func (r *Runtime) Put(ctx context.Context, path string, value any) error {
	return r.client.Put(ctx, path, value)
}

// RequestRefresh implements entity.Writer.
func (r *Runtime) RequestRefresh() {
	r.coord.RequestRefresh()
}

// Handle dispatches a command to the entity with uniqueID. Non-auth write
// failures are logged here so every caller reports them the same way.
func (r *Runtime) Handle(ctx context.Context, uniqueID string, cmd entity.Command) error {
	e, ok := entity.Find(r.entities, uniqueID)
	if !ok {
		return fmt.Errorf("gateway: unknown entity %q", uniqueID)
	}

	c, ok := e.(entity.Commander)
	if !ok {
		return fmt.Errorf("gateway: entity %q is read-only", uniqueID)
	}

	err := c.Handle(ctx, r, cmd)
	if err != nil && !coordinator.IsAuthFailure(err) && !errors.Is(err, entity.ErrInvalidCommand) {
		r.logger.Warn("entity write failed",
			slog.String("entity", uniqueID),
			slog.String("error", err.Error()),
		)
	}

	return err
}
