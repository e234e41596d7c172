package translate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"go.aimuz.me/voxbridge/cache"
	"go.aimuz.me/voxbridge/internal/retry"
	"go.aimuz.me/voxbridge/internal/types"
	"go.aimuz.me/voxbridge/lang"
)

// FailurePrefix marks a degraded translation.
const FailurePrefix = "[Translation failed] "

// Item is a queued translation.
type Item struct {
	ID             string
	SourceID       string // transcript segment the text came from
	Text           string
	InputLanguage  string
	OutputLanguage string
	Model          string

	gen uint64
}

func (it Item) request() Request {
	return Request{
		Text:           it.Text,
		InputLanguage:  it.InputLanguage,
		OutputLanguage: it.OutputLanguage,
		Model:          it.Model,
	}
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	// Providers in priority order. The first provider that is not the
	// primary for a request is its secondary.
	Providers []Provider
	Router    *Router      // Defaults to NewRouter(first provider)
	Cache     *cache.Cache // Optional

	// DetectLanguage passes through text that is confidently already in
	// the output language instead of sending it to a provider.
	DetectLanguage bool

	Timeout    time.Duration // Per provider call, default 30s
	RetryDelay time.Duration // Pause after a processing exception, default 1s

	// OnResult receives each item's result, in enqueue order, from the
	// worker goroutine. Results of items cleared while in flight are dropped.
	OnResult func(Item, Result)
}

// Dispatcher translates queued items one at a time.
type Dispatcher struct {
	cfg       DispatcherConfig
	providers map[ProviderID]Provider

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	detectMu  sync.Mutex
	detectors map[string]*lang.Detector

	mu     sync.Mutex
	queue  []Item
	busy   bool
	gen    uint64
	closed bool
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Router == nil {
		preferred := Groq
		if len(cfg.Providers) > 0 {
			preferred = cfg.Providers[0].ID()
		}
		cfg.Router = NewRouter(preferred)
	}

	providers := make(map[ProviderID]Provider, len(cfg.Providers))
	for _, p := range cfg.Providers {
		providers[p.ID()] = p
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		cfg:       cfg,
		providers: providers,
		detectors: make(map[string]*lang.Detector),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Enqueue queues text for translation and returns the item id. An idle
// dispatcher starts working at once.
func (d *Dispatcher) Enqueue(text, inputLang, outputLang, model string) string {
	return d.EnqueueItem(Item{
		Text:           text,
		InputLanguage:  inputLang,
		OutputLanguage: outputLang,
		Model:          model,
	})
}

// EnqueueItem queues a prepared item. An empty ID is filled in.
func (d *Dispatcher) EnqueueItem(it Item) string {
	if it.ID == "" {
		it.ID = uuid.NewString()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return it.ID
	}
	it.gen = d.gen
	d.queue = append(d.queue, it)
	if !d.busy {
		d.busy = true
		d.wg.Go(d.work)
	}
	return it.ID
}

// Pending returns the number of queued items not yet started.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Busy reports whether an item is being translated.
func (d *Dispatcher) Busy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.busy
}

// Clear drops queued items. An item already in flight completes, but its
// result is discarded.
func (d *Dispatcher) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen++
	d.queue = nil
}

// Close stops the dispatcher and waits for the worker to exit.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.gen++
	d.queue = nil
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
}

// work drains the queue. Only one worker runs at a time.
func (d *Dispatcher) work() {
	for {
		d.mu.Lock()
		if len(d.queue) == 0 || d.closed {
			d.busy = false
			d.mu.Unlock()
			return
		}
		it := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()

		res, err := d.process(it)
		if err != nil {
			slog.Error("translation worker", "item", it.ID, "error", err)
			res = degraded(it.Text)
		}

		d.mu.Lock()
		current := it.gen == d.gen
		d.mu.Unlock()
		if current && d.cfg.OnResult != nil {
			d.cfg.OnResult(it, res)
		} else if !current {
			slog.Debug("drop stale translation", "item", it.ID)
		}

		if err != nil {
			if retry.Sleep(d.ctx, d.cfg.RetryDelay) != nil {
				d.mu.Lock()
				d.busy = false
				d.mu.Unlock()
				return
			}
		}
	}
}

// process translates one item, turning a panic into an error.
func (d *Dispatcher) process(it Item) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return d.translate(d.ctx, it.request(), it.gen), nil
}

// Translate runs the per-item algorithm synchronously. It never fails: when
// no provider succeeds the result is degraded.
func (d *Dispatcher) Translate(ctx context.Context, req Request) Result {
	d.mu.Lock()
	gen := d.gen
	d.mu.Unlock()
	return d.translate(ctx, req, gen)
}

// translate serves a request issued in generation gen. A Clear since then
// keeps the result out of the cache.
func (d *Dispatcher) translate(ctx context.Context, req Request, gen uint64) Result {
	if lang.SameBase(req.InputLanguage, req.OutputLanguage) {
		return Result{Translation: req.Text, Speaker: types.SpeakerUnknown, Identity: true}
	}
	if d.alreadyInOutput(req) {
		return Result{Translation: req.Text, Speaker: types.SpeakerUnknown, Identity: true}
	}

	key := cache.Key(req.Text, req.InputLanguage, req.OutputLanguage, req.Model)
	if d.cfg.Cache != nil {
		if e, ok := d.cfg.Cache.Get(key); ok {
			return Result{Translation: e.Translation, Speaker: e.Speaker, Cached: true}
		}
	}

	primary, secondary := d.pick(req.Model)
	if primary == nil {
		slog.Error("translate", "error", ErrNoProvider)
		return degraded(req.Text)
	}

	res, err := d.call(ctx, primary, req)
	if err != nil {
		if errors.Is(err, ErrServiceUnavailable) {
			slog.Warn("primary provider unavailable, trying secondary",
				"provider", primary.ID(), "error", err)
		} else {
			slog.Warn("primary provider failed, trying secondary",
				"provider", primary.ID(), "error", err)
		}
		if secondary == nil || ctx.Err() != nil {
			return degraded(req.Text)
		}

		fallback := req
		fallback.Model = secondary.DefaultModel()
		res, err = d.call(ctx, secondary, fallback)
		if err != nil {
			slog.Error("translate", "provider", secondary.ID(), "error", err)
			return degraded(req.Text)
		}
	}

	d.store(key, res, gen)
	return res
}

// store writes res through to the cache unless the dispatcher was cleared
// after gen. The check and the write share d.mu so a concurrent Clear
// either precedes the write or wipes it.
func (d *Dispatcher) store(key string, res Result, gen uint64) {
	if d.cfg.Cache == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if gen != d.gen {
		slog.Debug("skip caching stale translation")
		return
	}
	if err := d.cfg.Cache.Set(key, &cache.Entry{Translation: res.Translation, Speaker: res.Speaker}); err != nil {
		slog.Warn("cache translation", "error", err)
	}
}

func (d *Dispatcher) call(ctx context.Context, p Provider, req Request) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	start := time.Now()
	res, err := p.Translate(ctx, req)
	if err != nil {
		return Result{}, err
	}
	slog.Debug("translated", "provider", p.ID(), "model", res.Model, "took", time.Since(start))
	if res.Speaker == "" {
		res.Speaker = types.SpeakerUnknown
	}
	return res, nil
}

// pick returns the primary provider for model and the first other one.
func (d *Dispatcher) pick(model string) (primary, secondary Provider) {
	primary = d.providers[d.cfg.Router.Route(model)]
	for _, p := range d.cfg.Providers {
		if primary == nil {
			primary = p
			continue
		}
		if p.ID() != primary.ID() {
			return primary, p
		}
	}
	return primary, nil
}

// alreadyInOutput reports whether the detector is confident the text is
// already written in the output language.
func (d *Dispatcher) alreadyInOutput(req Request) bool {
	if !d.cfg.DetectLanguage {
		return false
	}
	out := lang.Base(req.OutputLanguage)
	code, ok := d.detector(lang.Base(req.InputLanguage), out).Detect(req.Text)
	return ok && code == out
}

// detector returns the detector for a language pair, building it once.
func (d *Dispatcher) detector(in, out string) *lang.Detector {
	key := in + "|" + out
	d.detectMu.Lock()
	defer d.detectMu.Unlock()
	det, ok := d.detectors[key]
	if !ok {
		det = lang.NewDetector(in, out)
		d.detectors[key] = det
	}
	return det
}

func degraded(text string) Result {
	return Result{Translation: FailurePrefix + text, Speaker: types.SpeakerUnknown, Degraded: true}
}
