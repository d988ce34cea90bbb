package loader

import (
	"fmt"
	"net/url"

	"github.com/google/uuid"

	"github.com/dshills/loadwire/internal/logging"
	"github.com/dshills/loadwire/internal/sequence"
	"github.com/dshills/loadwire/internal/timeticks"
	"github.com/dshills/loadwire/internal/wire"
)

// Dispatcher correlates resource messages to in-flight loads.
type Dispatcher struct {
	proc   *Process
	sender Sender
	runner sequence.Runner
	config Config
	log    *logging.Logger

	metrics *Metrics

	delegate   Delegate
	frameHost  FrameHost
	filter     *SchedulingFilter
	factory    LoaderFactory
	syncLoader SyncLoader
	classifier Classifier
	fatal      func(error)

	requests map[RequestID]*pendingRequest

	ioTimestamp timeticks.Ticks
	closed      bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(d *Dispatcher) {
		d.log = l
	}
}

// WithDelegate sets the peer delegate.
func WithDelegate(del Delegate) Option {
	return func(d *Dispatcher) {
		d.delegate = del
	}
}

// WithFrameHost sets the receiver of subresource notifications.
func WithFrameHost(h FrameHost) Option {
	return func(d *Dispatcher) {
		d.frameHost = h
	}
}

// WithSchedulingFilter associates loads with their loading runners.
func WithSchedulingFilter(f *SchedulingFilter) Option {
	return func(d *Dispatcher) {
		d.filter = f
	}
}

// WithLoaderFactory enables native loads.
func WithLoaderFactory(f LoaderFactory) Option {
	return func(d *Dispatcher) {
		d.factory = f
	}
}

// WithSyncLoader enables native sync loads.
func WithSyncLoader(l SyncLoader) Option {
	return func(d *Dispatcher) {
		d.syncLoader = l
	}
}

// WithClassifier sets the response classifier.
func WithClassifier(c Classifier) Option {
	return func(d *Dispatcher) {
		d.classifier = c
	}
}

// WithFatalHandler replaces the default fatal handler, which logs and
// panics. If the handler returns, the offending message is dropped.
func WithFatalHandler(h func(error)) Option {
	return func(d *Dispatcher) {
		d.fatal = h
	}
}

// New creates a dispatcher bound to runner. Every method must be called
// from tasks of that runner.
func New(proc *Process, sender Sender, runner sequence.Runner, config Config, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		proc:     proc,
		sender:   sender,
		runner:   runner,
		config:   config,
		requests: make(map[RequestID]*pendingRequest),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.log == nil {
		d.log = logging.Null()
	}
	d.log = d.log.WithComponent("loader")
	if d.fatal == nil {
		d.fatal = d.defaultFatal
	}
	if config.EnableMetrics {
		d.metrics = NewMetrics()
	}
	if d.config.MaxBufferSize <= 0 {
		d.config.MaxBufferSize = DefaultMaxBufferSize
	}
	return d
}

// StartOptions are per-load parameters of StartAsync.
type StartOptions struct {
	RoutingID   int
	FrameOrigin string

	// Runner is the loading runner of the frame, if any. Inbound messages
	// for the load are posted to it by the scheduling filter.
	Runner sequence.Runner

	// Native runs the load through the LoaderFactory instead of the wire.
	Native    bool
	IsSync    bool
	Throttles []Throttle
}

// StartAsync registers a load for peer and starts it. The returned id
// stays valid until the load completes or is cancelled.
func (d *Dispatcher) StartAsync(req *wire.RequestDescriptor, peer Peer, opts StartOptions) (RequestID, error) {
	if d.closed {
		return 0, ErrClosed
	}
	if err := checkReferrer(req); err != nil {
		return 0, err
	}
	if req.InspectorID == "" {
		req.InspectorID = uuid.NewString()
	}

	id := d.proc.NextRequestID()
	pr := newPendingRequest(id, peer, req, opts.FrameOrigin, d.proc.Now())
	d.requests[id] = pr
	d.metrics.recordCreated()

	if d.filter != nil && opts.Runner != nil {
		d.filter.SetRequestRunner(id, opts.Runner)
	}

	if opts.Native {
		if d.factory == nil {
			d.removePendingRequest(id)
			return 0, ErrNoLoaderFactory
		}
		lo := LoadOptions{SniffMimeType: !req.FetchRequest, Synchronous: opts.IsSync}
		loader, client, err := d.factory.CreateLoaderAndStart(id, opts.RoutingID, req, lo, opts.Throttles, d)
		if err != nil {
			d.removePendingRequest(id)
			return 0, fmt.Errorf("start native load: %w", err)
		}
		// The factory may have delivered events that cancelled the load.
		if pr = d.lookup(id); pr != nil {
			pr.loader = loader
			pr.client = client
		}
		return id, nil
	}

	msg := &wire.RequestResource{RoutingID: opts.RoutingID, ID: int32(id), Request: *req}
	if err := d.sender.Send(msg); err != nil {
		d.removePendingRequest(id)
		return 0, fmt.Errorf("send request: %w", err)
	}

	d.log.Debug("started request %d %s %s", id, req.Method, req.URL)
	return id, nil
}

// DidChangePriority reprioritises a load.
func (d *Dispatcher) DidChangePriority(id RequestID, priority wire.Priority, intraPriority int) {
	req := d.lookup(id)
	if req == nil {
		d.log.Debug("priority change for unknown request %d", id)
		return
	}
	if req.loader != nil {
		req.loader.SetPriority(priority, intraPriority)
		return
	}
	d.send(&wire.DidChangePriority{ID: int32(id), Priority: priority, IntraPriority: intraPriority})
}

// SetPeer replaces the peer of a load and returns the previous one, or nil
// if the load is unknown. It may be called from inside a peer callback.
func (d *Dispatcher) SetPeer(id RequestID, peer Peer) Peer {
	req := d.lookup(id)
	if req == nil {
		return nil
	}
	old := req.peer
	req.peer = peer
	return old
}

// SetIOTimestamp records when the next message was read from the channel.
// The value is consumed by the next response, redirect or completion.
func (d *Dispatcher) SetIOTimestamp(t timeticks.Ticks) {
	d.ioTimestamp = t
}

// Metrics returns the dispatch metrics, or nil if disabled.
func (d *Dispatcher) Metrics() *Metrics {
	return d.metrics
}

// Close cancels every load. Tasks the dispatcher already posted become
// no-ops; loads cannot be started afterwards.
func (d *Dispatcher) Close() {
	if d.closed {
		return
	}
	ids := make([]RequestID, 0, len(d.requests))
	for id := range d.requests {
		ids = append(ids, id)
	}
	for _, id := range ids {
		d.Cancel(id)
	}
	d.closed = true
}

// Closed reports whether Close has been called.
func (d *Dispatcher) Closed() bool {
	return d.closed
}

// post schedules task on the dispatcher's runner. The task is skipped if
// the dispatcher is closed by the time it runs.
func (d *Dispatcher) post(task func()) {
	err := d.runner.Post(func() {
		if d.closed {
			return
		}
		task()
	})
	if err != nil {
		d.log.Warn("dropping task: %v", err)
	}
}

func (d *Dispatcher) send(msg wire.Message) {
	if err := d.sender.Send(msg); err != nil {
		d.log.Warn("send %s: %v", msg.Kind(), err)
	}
}

func (d *Dispatcher) fail(err *FatalError) {
	d.metrics.recordFatal()
	d.fatal(err)
}

func (d *Dispatcher) defaultFatal(err error) {
	d.log.Error("%v", err)
	panic(err)
}

// checkReferrer rejects loads that would send a secure referrer to an
// insecure URL under a downgrade-permitting default policy.
func checkReferrer(req *wire.RequestDescriptor) error {
	if req.ReferrerPolicy != wire.ReferrerPolicyDefault &&
		req.ReferrerPolicy != wire.ReferrerPolicyNoReferrerWhenDowngrade {
		return nil
	}
	if req.Referrer == "" {
		return nil
	}
	if isCryptographic(req.Referrer) && !isCryptographic(req.URL) {
		return fmt.Errorf("%w: url=%s referrer=%s", ErrInsecureReferrer, req.URL, req.Referrer)
	}
	return nil
}

func isCryptographic(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme == "https" || u.Scheme == "wss"
}
