package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/loadwire/internal/config"
	"github.com/dshills/loadwire/internal/loader"
	"github.com/dshills/loadwire/internal/logging"
	"github.com/dshills/loadwire/internal/netlog"
	"github.com/dshills/loadwire/internal/policy"
	"github.com/dshills/loadwire/internal/sequence"
	"github.com/dshills/loadwire/internal/timeticks"
	"github.com/dshills/loadwire/internal/wire"
)

// client wires a dispatcher to the wire transport.
type client struct {
	cfg config.Config
	log *logging.Logger
	out io.Writer

	// origin is the frame origin loads are issued from. Cross-origin
	// document responses are counted against it.
	origin string
	// history is the number of stored loads PrintSummary lists.
	history int

	clock      timeticks.Clock
	loop       *sequence.Loop
	transport  *wire.Transport
	filter     *loader.SchedulingFilter
	dispatcher *loader.Dispatcher
	isolation  *loader.IsolationStats

	netlog  *netlog.Log
	store   *netlog.Store
	policy  *policy.Policy
	watcher *config.Watcher

	shutdownOnce sync.Once
}

func newClient(ctx context.Context, cfg config.Config, configPath string, in io.Reader, wireOut, out io.Writer) (*client, error) {
	log := logging.New(logging.Config{Level: cfg.LogLevel(), Output: out, Prefix: "loadwire"})

	c := &client{
		cfg:   cfg,
		log:   log,
		out:   out,
		clock: timeticks.NewClock(),
	}

	var loopOpts []sequence.LoopOption
	if cfg.Loader.RecoverPanics {
		loopOpts = append(loopOpts, sequence.WithPanicHandler(func(v any, stack []byte) {
			log.Error("task panic: %v\n%s", v, stack)
		}))
	}
	c.loop = sequence.NewLoop(loopOpts...)
	c.loop.Start(ctx)

	if cfg.Netlog.Enabled {
		store, err := netlog.OpenStore(cfg.Netlog.Path)
		if err != nil {
			c.Shutdown()
			return nil, err
		}
		c.store = store
		c.netlog = netlog.New(netlog.WithSink(store), netlog.WithLogger(log.WithComponent("netlog")))
	}

	if cfg.Policy.Script != "" {
		p, err := policy.FromFile(cfg.Policy.Script, policy.WithLogger(log.WithComponent("policy")))
		if err != nil {
			c.Shutdown()
			return nil, fmt.Errorf("loading policy %s: %w", cfg.Policy.Script, err)
		}
		c.policy = p
	}

	c.transport = openTransport(in, wireOut, log)
	c.filter = loader.NewSchedulingFilter(c.loop)
	c.isolation = loader.NewIsolationStats()

	proc := loader.NewProcess(loader.WithClock(c.clock), loader.WithMainRunner(c.loop))
	dopts := []loader.Option{
		loader.WithLogger(log),
		loader.WithSchedulingFilter(c.filter),
		loader.WithClassifier(c.isolation),
	}
	if c.netlog != nil {
		dopts = append(dopts, loader.WithDelegate(c.netlog))
	}
	c.dispatcher = loader.New(proc, c.transport, c.loop, cfg.DispatcherConfig(), dopts...)

	c.transport.SetHandler(c.onFrame)
	c.transport.Start(ctx)

	if configPath != "" {
		w, err := config.Watch(configPath, c.onReload, config.WithWatchLogger(log.WithComponent("config")))
		if err != nil {
			log.Warn("not watching %s: %v", configPath, err)
		} else {
			c.watcher = w
		}
	}

	return c, nil
}

// onFrame runs on the transport's read goroutine. The arrival time is
// captured here and handed to the dispatcher with the frame.
func (c *client) onFrame(f wire.Frame) {
	arrived := c.clock.Now()
	handled := c.filter.Route(f, func(frame wire.Frame) {
		c.dispatcher.SetIOTimestamp(arrived)
		c.dispatcher.OnMessageReceived(frame)
	})
	if !handled {
		c.log.Debug("ignoring frame of kind %q", wire.KindOf(f.Data))
		f.Close()
	}
}

func (c *client) onReload(cfg config.Config, err error) {
	if err != nil {
		return
	}
	if cfg.LogLevel() != c.log.Level() {
		c.log.SetLevel(cfg.LogLevel())
		c.log.Info("log level now %s", cfg.LogLevel())
	}
}

func (c *client) newRequest(method, url string) *wire.RequestDescriptor {
	return &wire.RequestDescriptor{
		Method:       method,
		URL:          url,
		ResourceType: wire.ResourceXHR,
		Priority:     wire.PriorityMedium,
		InspectorID:  uuid.NewString(),
	}
}

// FetchAsync starts every URL and waits for all of them to complete.
// It returns the number of failed loads.
func (c *client) FetchAsync(ctx context.Context, method string, urls []string) int {
	var (
		mu     sync.Mutex
		failed int
		wg     sync.WaitGroup
	)
	done := func(ok bool) {
		if !ok {
			mu.Lock()
			failed++
			mu.Unlock()
		}
		wg.Done()
	}

	for _, url := range urls {
		req := c.newRequest(method, url)
		runner := sequence.NewQueue(c.loop)
		finish := func(ok bool) {
			runner.Close()
			done(ok)
		}

		var peer loader.Peer = newPrinter(c.out, url, finish)
		if c.policy != nil {
			peer = c.policy.Wrap(peer)
		}
		if c.netlog != nil {
			peer = c.netlog.Wrap(peer, req)
		}

		wg.Add(1)
		opts := loader.StartOptions{Runner: runner, FrameOrigin: c.origin}
		err := c.loop.Post(func() {
			if _, err := c.dispatcher.StartAsync(req, peer, opts); err != nil {
				fmt.Fprintf(c.out, "%s: %v\n", req.URL, err)
				done(false)
			}
		})
		if err != nil {
			fmt.Fprintf(c.out, "%s: %v\n", url, err)
			done(false)
		}
	}

	all := make(chan struct{})
	go func() {
		wg.Wait()
		close(all)
	}()

	select {
	case <-all:
		return failed
	case <-ctx.Done():
		c.log.Info("interrupted")
	case <-c.transport.Done():
		c.log.Warn("transport closed with loads outstanding")
	}
	mu.Lock()
	defer mu.Unlock()
	return failed + 1
}

// FetchSync loads each URL in turn, blocking on each.
func (c *client) FetchSync(ctx context.Context, method string, urls []string) int {
	failed := 0
	for _, url := range urls {
		resp, err := c.syncLoad(ctx, c.newRequest(method, url))
		if err != nil {
			fmt.Fprintf(c.out, "%s: %v\n", url, err)
			failed++
			continue
		}
		fmt.Fprintf(c.out, "%s: %s\n", url, resp)
		if resp.ErrorCode != wire.OK {
			failed++
		}
	}
	return failed
}

type syncResult struct {
	resp *loader.SyncLoadResponse
	err  error
}

// syncLoad runs a sync load as a task on the loop and waits for it. The
// loop is blocked until the reply arrives, as a sync load blocks the
// sequence it is issued from.
func (c *client) syncLoad(ctx context.Context, req *wire.RequestDescriptor) (*loader.SyncLoadResponse, error) {
	done := make(chan syncResult, 1)
	started := time.Now()

	err := c.loop.Post(func() {
		resp, err := c.dispatcher.StartSync(ctx, req, loader.SyncOptions{FrameOrigin: c.origin})
		if err == nil && c.netlog != nil {
			c.netlog.RecordSync(req, resp, started)
		}
		done <- syncResult{resp: resp, err: err}
	})
	if err != nil {
		return nil, err
	}

	select {
	case r := <-done:
		return r.resp, r.err
	case <-c.loop.Done():
		return nil, loader.ErrClosed
	}
}

// PrintSummary writes the loads recorded by this run, the stored history,
// dispatcher metrics and response classification counts.
func (c *client) PrintSummary(ctx context.Context) {
	if c.netlog != nil {
		for _, e := range c.netlog.Entries() {
			fmt.Fprintf(c.out, "netlog %s %s (%s)\n", e.ID, e, e.Duration().Round(time.Millisecond))
		}
	}
	if c.store != nil {
		c.printStore(ctx)
	}
	if m := c.dispatcher.Metrics(); m != nil {
		s := m.Snapshot()
		fmt.Fprintf(c.out, "loader: %d created, %d cancelled, %d redirects, %d queued, %d discarded, %d fatal\n",
			s.Created, s.Cancelled, s.Redirects, s.Queued, s.Discarded, s.Fatals)
		fmt.Fprintf(c.out, "loader: %d dispatches, avg %s, %d compressed timings\n",
			s.TotalDispatches, s.AverageDuration, s.CompressedTimings)
		for _, km := range m.SlowestKinds(3) {
			fmt.Fprintf(c.out, "loader: %-26s %4d dispatches, avg %s, max %s\n",
				km.Kind, km.DispatchCount, km.AverageDuration(), km.MaxDuration)
		}
	}
	if c.origin != "" {
		for _, kind := range []loader.DocumentKind{loader.DocumentHTML, loader.DocumentXML, loader.DocumentJSON} {
			if n := c.isolation.CrossSite(kind); n > 0 {
				fmt.Fprintf(c.out, "cross-origin %s: %d responses, %d confirmed\n", kind, n, c.isolation.Confirmed(kind))
			}
		}
		if n := c.isolation.NoSniff(); n > 0 {
			fmt.Fprintf(c.out, "cross-origin nosniff: %d\n", n)
		}
	}
	if c.policy != nil {
		allowed, denied, errs := c.policy.Stats()
		fmt.Fprintf(c.out, "policy: %d allowed, %d denied, %d errors\n", allowed, denied, errs)
	}
}

func (c *client) printStore(ctx context.Context) {
	total, err := c.store.Count(ctx)
	if err != nil {
		c.log.Warn("reading netlog: %v", err)
		return
	}
	failures, err := c.store.Failures(ctx)
	if err != nil {
		c.log.Warn("reading netlog: %v", err)
		return
	}
	fmt.Fprintf(c.out, "netlog db: %d loads, %d failed\n", total, failures)

	if c.history <= 0 {
		return
	}
	recent, err := c.store.Recent(ctx, c.history)
	if err != nil {
		c.log.Warn("reading netlog history: %v", err)
		return
	}
	for _, e := range recent {
		fmt.Fprintf(c.out, "history %s %s\n", e.Finished.Local().Format(time.DateTime), e)
	}
}

// Shutdown closes the dispatcher on its loop and releases every resource.
// It is safe to call more than once.
func (c *client) Shutdown() {
	c.shutdownOnce.Do(func() {
		if c.watcher != nil {
			_ = c.watcher.Close()
		}
		if c.dispatcher != nil {
			if err := c.loop.Post(c.dispatcher.Close); err != nil {
				<-c.loop.Done()
				c.dispatcher.Close()
			}
		}
		c.loop.Stop()
		<-c.loop.Done()

		if c.transport != nil {
			_ = c.transport.Close()
		}
		if c.policy != nil {
			c.policy.Close()
		}
		if c.store != nil {
			if err := c.store.Close(); err != nil {
				c.log.Warn("closing netlog: %v", err)
			}
		}
	})
}
