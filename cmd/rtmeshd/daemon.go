package main

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rtmesh/rtmesh/internal/config"
	"github.com/rtmesh/rtmesh/internal/log"
	"github.com/rtmesh/rtmesh/pkg/delivery"
	"github.com/rtmesh/rtmesh/pkg/discovery"
	"github.com/rtmesh/rtmesh/pkg/entity"
	"github.com/rtmesh/rtmesh/pkg/guid"
	"github.com/rtmesh/rtmesh/pkg/lease"
	"github.com/rtmesh/rtmesh/pkg/proxy"
	"github.com/rtmesh/rtmesh/pkg/telemetry"
	"github.com/rtmesh/rtmesh/pkg/xevent"
)

// builtinCache is the minimal SPDP sample store a real implementation's
// builtin-topic writer would maintain; it satisfies both
// entity.BuiltinTopicWriter (fed by entity lifecycle events) and
// discovery.SPDPSampleSource (consumed by the SPDP scheduler).
type builtinCache struct {
	log *log.Logger

	mu      sync.Mutex
	samples map[guid.GUID][]byte
}

func newBuiltinCache() *builtinCache {
	return &builtinCache{
		log:     log.For("builtin"),
		samples: make(map[guid.GUID][]byte),
	}
}

// WriteEntityEvent implements entity.BuiltinTopicWriter.
func (c *builtinCache) WriteEntityEvent(k entity.Kind, g guid.GUID, alive bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if k != entity.KindParticipant {
		return
	}
	if !alive {
		delete(c.samples, g)
		return
	}
	if _, ok := c.samples[g]; !ok {
		// Placeholder SPDP payload: real serialization is out of scope
		// (spec section 1); this just needs to be non-empty so the live/
		// aging publish callbacks have something to dispatch.
		c.samples[g] = []byte(g.String())
	}
}

// SPDPSample implements discovery.SPDPSampleSource.
func (c *builtinCache) SPDPSample(participant guid.GUID) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.samples[participant]
	return s, ok
}

// noopTransport discards every send; a real deployment supplies a UDP
// multicast/unicast transport, which is explicitly out of this
// module's hard core (spec section 1).
type noopTransport struct{ log *log.Logger }

func (t noopTransport) SendUnicast(addr net.Addr, payload []byte) {
	t.log.Debugf("spdp send suppressed (no transport wired): %d bytes to %s", len(payload), addr)
}

// Daemon owns one domain's full set of singletons and tears them down
// synchronously in the fixed order spec section 9 prescribes: executor
// first, then discovery, then entity index, then leaseheap, then
// transport.
type Daemon struct {
	log *log.Logger

	cfgLoader *config.Loader

	domain   *entity.Domain
	executor *xevent.Executor
	leases   *lease.Heap
	table    *discovery.LocatorTable
	dir      *discovery.Directory
	endpoints *discovery.Endpoints
	scheduler *discovery.SPDPScheduler
	delivery  *delivery.Engine

	metricsSrv      *http.Server
	tracingShutdown func()
}

// NewDaemon wires one domain's singletons from cfg. traceAgentAddr, if
// non-empty, is the OpenCensus collector address spans are exported to;
// an empty value disables tracing.
func NewDaemon(domainID int, cfg config.Config, metricsAddr, traceAgentAddr string) *Daemon {
	builtin := newBuiltinCache()
	dom := entity.NewDomain(domainID, builtin)

	domainLabel := fmt.Sprintf("%d", domainID)

	executor := xevent.New(domainLabel, xevent.Limits{
		MaxBytes:    cfg.RetransmitMaxBytes,
		MaxMessages: cfg.RetransmitMaxMessages,
	})

	leases := lease.NewHeap()

	table := discovery.NewLocatorTable(cfg.AgingBaseInterval)
	dir := discovery.NewDirectory(dom.Index, leases, cfg.ParticipantLeaseDuration)
	endpoints := discovery.NewEndpoints(dom.Index, leases, dir, proxy.EclipseVendor)
	scheduler := discovery.NewSPDPScheduler(executor, table, builtin, noopTransport{log: log.For("transport")})

	deliveryEngine := delivery.New(domainLabel, dom.Index, nil, nil)

	var metricsSrv *http.Server
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.Handler())
		metricsSrv = &http.Server{Addr: metricsAddr, Handler: mux}
	}

	tracingShutdown, err := telemetry.InitTracing(fmt.Sprintf("rtmeshd-domain-%d", domainID), traceAgentAddr)
	if err != nil {
		log.For("daemon").Warnf("tracing disabled: %v", err)
		tracingShutdown = func() {}
	}

	return &Daemon{
		log:             log.For("daemon"),
		domain:          dom,
		executor:        executor,
		leases:          leases,
		table:           table,
		dir:             dir,
		endpoints:       endpoints,
		scheduler:       scheduler,
		delivery:        deliveryEngine,
		metricsSrv:      metricsSrv,
		tracingShutdown: tracingShutdown,
	}
}

// Start launches the executor, lease heap, GC, and metrics goroutines.
func (d *Daemon) Start() {
	go d.executor.Run()
	go d.leases.Run()
	go d.runGCLoop()

	if d.metricsSrv != nil {
		go func() {
			if err := d.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				d.log.Errorf("metrics server: %v", err)
			}
		}()
	}
}

func (d *Daemon) runGCLoop() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		d.domain.RunGC()
	}
}

// Stop tears the daemon down in the fixed order of spec section 9:
// executor, then discovery, then entity index (nothing further to stop
// there; it's pure in-memory state reclaimed by GC), then leaseheap,
// then transport (nothing to stop with the noop transport).
func (d *Daemon) Stop() {
	d.executor.Stop()
	d.scheduler.Stop()
	d.leases.Stop()
	if d.metricsSrv != nil {
		d.metricsSrv.Close()
	}
	d.tracingShutdown()
}
