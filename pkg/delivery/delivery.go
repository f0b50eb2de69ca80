// Package delivery implements the local delivery engine of spec section
// 4.7: a single resolve-once, store-many makesample step feeding the
// fast path (contiguous reader arrays grouped by sertype) and the slow
// path (entity-index walk under the source entity's lock), plus the
// resource-limit retry loop shared by both.
package delivery

import (
	"time"

	"github.com/rtmesh/rtmesh/internal/log"
	"github.com/rtmesh/rtmesh/pkg/entityindex"
	"github.com/rtmesh/rtmesh/pkg/guid"
	"github.com/rtmesh/rtmesh/pkg/telemetry"
)

// retryBackoff is the fixed 1ms backoff spec section 4.7 specifies for
// the resource-limit retry loop.
const retryBackoff = 1 * time.Millisecond

// WireSample is the incoming on-the-wire serialized representation
// passed to Makesample. Its structure is out of this module's hard
// core (spec.md Non-goals exclude XCDR); callers hand in whatever
// opaque payload their sertype needs.
type WireSample struct {
	SerType string
	Payload []byte
}

// CachedSample is the per-sertype resolved result of Makesample: the
// deserialized (or reference-counted, type-pinned) form a reader's
// history cache actually stores.
type CachedSample any

// Sertype resolves a wire sample into its cached form exactly once per
// run of identical consecutive sertypes, mirroring the small per-type
// cache of spec section 4.7.
type Sertype interface {
	Makesample(w WireSample) (CachedSample, error)
}

// MatchedReader is the narrow surface delivery needs from a reader: a
// store attempt and an existence check for the retry-abort condition.
// pkg/entity.Reader satisfies this directly.
type MatchedReader interface {
	Store(sample any) (ok bool, rejectRetryable bool)
	Exists() bool
}

// SourceEntity is the narrow surface delivery needs from the writer
// that is the origin of a sample, for the slow path's lock and the
// retry-abort condition.
type SourceEntity interface {
	Exists() bool
	Lock()
	Unlock()
}

// OnFailureFastpath is invoked when a fast-path store fails for a
// rejectable reason; typical implementations sleep or yield to let the
// reader cache make progress before the caller retries.
type OnFailureFastpath func()

// Engine runs delivery for one domain.
type Engine struct {
	log       *log.Logger
	domain    string
	idx       *entityindex.Index
	sertypes  map[string]Sertype
	onFailure OnFailureFastpath
	metrics   *telemetry.Metrics
}

// New constructs a delivery Engine bound to idx, with an optional
// fast-path failure hook (nil installs a default that sleeps 0). domain
// labels the prometheus counters this engine increments on drop.
func New(domain string, idx *entityindex.Index, sertypes map[string]Sertype, onFailure OnFailureFastpath) *Engine {
	if onFailure == nil {
		onFailure = func() { time.Sleep(0) }
	}
	return &Engine{
		log:       log.For("delivery"),
		domain:    domain,
		idx:       idx,
		sertypes:  sertypes,
		onFailure: onFailure,
		metrics:   telemetry.Default(),
	}
}

// Makesample resolves one wire sample into its cached form via the
// sertype named in w.SerType, called once per contiguous run of
// identical sertypes by the fast path below.
func (e *Engine) Makesample(w WireSample) (CachedSample, error) {
	st, ok := e.sertypes[w.SerType]
	if !ok {
		return nil, errUnknownSertype(w.SerType)
	}
	return st.Makesample(w)
}

type errUnknownSertype string

func (e errUnknownSertype) Error() string { return "delivery: unknown sertype " + string(e) }

// FastPathDeliver implements spec section 4.7's fast path: iterates a
// contiguous array of matched readers grouped by sertype (callers group
// ahead of time; this just recognizes a run via consecutive identical
// SerType strings on the samples slice), computing the cached sample
// once per run and storing into every reader of that run.
func (e *Engine) FastPathDeliver(readers []MatchedReader, samples []WireSample, source SourceEntity) {
	_, endSpan := telemetry.StartSpan("delivery.fast_path")
	defer endSpan()

	n := len(readers)
	if len(samples) < n {
		n = len(samples)
	}
	i := 0
	for i < n {
		run := samples[i].SerType
		cached, err := e.Makesample(samples[i])
		j := i
		for j < n && samples[j].SerType == run {
			if err == nil {
				e.deliverOne(readers[j], cached, source)
			}
			j++
		}
		i = j
	}
}

func (e *Engine) deliverOne(r MatchedReader, sample CachedSample, source SourceEntity) {
	for {
		ok, retryable := r.Store(sample)
		if ok {
			return
		}
		if !retryable {
			e.metrics.DeliveryDrops.WithLabelValues(e.domain).Inc()
			return // unrecoverable rejection: abort this sample for this reader
		}

		if source != nil {
			source.Unlock()
		}
		time.Sleep(retryBackoff)
		if source != nil {
			source.Lock()
		}

		if !r.Exists() {
			e.metrics.DeliveryDrops.WithLabelValues(e.domain).Inc()
			return // reader deleted mid-retry: drop
		}
		if source != nil && !source.Exists() {
			e.metrics.DeliveryDrops.WithLabelValues(e.domain).Inc()
			return // source deleted mid-retry: drop
		}
		e.onFailure()
	}
}

// SlowPathDeliver implements spec section 4.7's slow path, used while
// the source entity is mid-delete: walk the entity index by GUID under
// the source's lock, resolving and storing for each matched reader
// found there.
func (e *Engine) SlowPathDeliver(sourceGUID guid.GUID, topic string, sample WireSample, source SourceEntity) {
	if source != nil {
		source.Lock()
		defer source.Unlock()
	}

	var cached CachedSample
	var resolved bool
	e.idx.Range(guid.KindReader, topic, nil, func(entry *entityindex.Entry) bool {
		r, ok := entry.Value.(MatchedReader)
		if !ok {
			return true
		}
		if !resolved {
			c, err := e.Makesample(sample)
			if err != nil {
				return false
			}
			cached = c
			resolved = true
		}
		e.deliverOne(r, cached, source)
		return true
	})
}
