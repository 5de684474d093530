// Package view drives one dashboard view: it fetches records once, then
// re-runs filtering and aggregation on every filter change.
package view

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/verte-zerg/panier/internal/aggregate"
	"github.com/verte-zerg/panier/internal/filter"
	"github.com/verte-zerg/panier/internal/ingest"
	"github.com/verte-zerg/panier/internal/model"
)

var (
	// ErrSuperseded is returned by a load whose result was dropped because a newer load started.
	ErrSuperseded = errors.New("load superseded by a newer request")
	// ErrNotLoaded is returned when filtering before the first successful load.
	ErrNotLoaded = errors.New("view has no records loaded")
)

// Authorizer yields the access token of a valid session.
type Authorizer interface {
	RequireAuth(ctx context.Context) (string, error)
}

// Fetcher retrieves raw purchase records.
type Fetcher interface {
	FetchTransactions(ctx context.Context, token string, params url.Values) ([]model.RawFields, error)
}

// Report is the aggregated state of one record subset.
type Report struct {
	Total    model.Totals
	Rows     []model.AggregateRow
	Monthly  []model.AggregateRow
	Table    model.CrossTab
	Peak     *model.PeakTimes
	Overview *model.Overview
}

// Snapshot is everything the presentation layer needs to render a view.
type Snapshot struct {
	Kind               Kind
	Spec               model.FilterSpec
	Bounds             model.Bounds
	Year               int
	Years              []int
	Records            int
	Rejected           int
	Selected           int
	ComparisonSelected int
	Primary            Report
	Comparison         *Report
	ComparisonActive   bool
	AverageMode        bool
	LoadedAt           time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithLocation sets the time zone used for date bounds, months and hours.
func WithLocation(loc *time.Location) Option {
	return func(c *Controller) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// WithCatalog sets the known CSPs and categories.
func WithCatalog(csps, categories []string) Option {
	return func(c *Controller) {
		c.csps = csps
		c.categories = categories
	}
}

// WithIngestPolicy sets how malformed amounts and quantities are handled.
func WithIngestPolicy(policy ingest.Policy) Option {
	return func(c *Controller) {
		c.policy = policy
	}
}

// WithLogger sets the controller's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithSpec sets the initial filter.
func WithSpec(spec model.FilterSpec) Option {
	return func(c *Controller) {
		c.spec = spec
	}
}

// WithYear sets the initial overview year.
func WithYear(year int) Option {
	return func(c *Controller) {
		c.year = year
	}
}

// Controller owns the records and derived state of one view.
type Controller struct {
	kind    Kind
	auth    Authorizer
	fetcher Fetcher
	logger  *slog.Logger
	now     func() time.Time

	loc        *time.Location
	csps       []string
	categories []string
	policy     ingest.Policy

	filter *filter.Engine
	agg    *aggregate.Engine

	mu       sync.Mutex
	seq      uint64
	cancel   context.CancelFunc
	loaded   bool
	records  []model.Purchase
	rejected int
	spec     model.FilterSpec
	year     int
	snap     Snapshot
	filtered []model.Purchase
}

// New returns a Controller for kind. Records are fetched through fetcher
// after auth grants a token.
func New(kind Kind, auth Authorizer, fetcher Fetcher, opts ...Option) *Controller {
	c := &Controller{
		kind:    kind,
		auth:    auth,
		fetcher: fetcher,
		logger:  slog.Default(),
		now:     time.Now,
		loc:     time.Local,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.year == 0 {
		c.year = c.now().In(c.loc).Year()
	}
	c.filter = filter.New(c.loc)
	c.agg = aggregate.New(
		aggregate.WithCSPs(c.csps),
		aggregate.WithCategories(c.categories),
		aggregate.WithLocation(c.loc),
	)
	c.logger = c.logger.With("view", string(kind))
	return c
}

// Kind returns the controller's view kind.
func (c *Controller) Kind() Kind {
	return c.kind
}

// Location returns the controller's time zone.
func (c *Controller) Location() *time.Location {
	return c.loc
}

// Load fetches the view's records and recomputes its snapshot. Starting a
// new Load cancels the one in flight; the older call returns ErrSuperseded.
// On failure the previous state is kept.
func (c *Controller) Load(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.seq++
	seq := c.seq
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	spec := c.spec
	c.mu.Unlock()
	defer cancel()

	started := time.Now()
	raws, err := c.fetch(ctx, spec)

	c.mu.Lock()
	defer c.mu.Unlock()
	if seq != c.seq {
		c.logger.Debug("dropping stale load", "seq", seq)
		return Snapshot{}, ErrSuperseded
	}
	c.cancel = nil
	if err != nil {
		return Snapshot{}, err
	}

	records, err := ingest.FromRaw(raws, ingest.Options{Policy: c.policy, Location: c.loc})
	rejected := 0
	if err != nil {
		var rejectErr *ingest.RejectError
		if !errors.As(err, &rejectErr) {
			return Snapshot{}, fmt.Errorf("failed to decode transactions: %w", err)
		}
		rejected = len(rejectErr.IDs)
		c.logger.Warn("rejected malformed records", "count", rejected, "ids", rejectErr.IDs)
	}

	c.records = records
	c.rejected = rejected
	c.loaded = true
	c.logger.Info("records loaded", "records", len(records), "duration", time.Since(started))
	return c.recompute()
}

func (c *Controller) fetch(ctx context.Context, spec model.FilterSpec) ([]model.RawFields, error) {
	token, err := c.auth.RequireAuth(ctx)
	if err != nil {
		return nil, err
	}
	var params url.Values
	if c.kind.ServerFiltered() {
		params = filter.ServerQuery(spec)
	}
	raws, err := c.fetcher.FetchTransactions(ctx, token, params)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transactions: %w", err)
	}
	return raws, nil
}

// Apply replaces the filter and recomputes the snapshot synchronously.
func (c *Controller) Apply(spec model.FilterSpec) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spec = spec
	if !c.loaded {
		return Snapshot{}, ErrNotLoaded
	}
	return c.recompute()
}

// Submit applies spec, refetching first when the view filters server-side.
func (c *Controller) Submit(ctx context.Context, spec model.FilterSpec) (Snapshot, error) {
	if !c.kind.ServerFiltered() {
		return c.Apply(spec)
	}
	c.mu.Lock()
	c.spec = spec
	c.mu.Unlock()
	return c.Load(ctx)
}

// SetYear selects the overview year and recomputes the snapshot.
func (c *Controller) SetYear(year int) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.year = year
	if !c.loaded {
		return Snapshot{}, ErrNotLoaded
	}
	return c.recompute()
}

// Snapshot returns the last computed snapshot.
func (c *Controller) Snapshot() (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap, c.loaded
}

// Year returns the selected overview year.
func (c *Controller) Year() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.year
}

// Spec returns the current filter.
func (c *Controller) Spec() model.FilterSpec {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.spec
}

// Filtered returns the primary record subset of the current filter.
func (c *Controller) Filtered() []model.Purchase {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Purchase, len(c.filtered))
	copy(out, c.filtered)
	return out
}

// Loaded reports whether records have been fetched.
func (c *Controller) Loaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded
}

// recompute must be called with c.mu held.
func (c *Controller) recompute() (Snapshot, error) {
	res := c.filter.Apply(c.records, c.spec)
	primary, err := c.report(res.Primary, filter.DayCount(c.spec))
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{
		Kind:     c.kind,
		Spec:     c.spec,
		Bounds:   c.filter.LastBounds(),
		Year:     c.year,
		Records:  len(c.records),
		Rejected: c.rejected,
		Selected: len(res.Primary),
		Primary:  primary,
		LoadedAt: c.now(),
	}
	if c.kind == Overview {
		snap.Years = c.agg.Years(c.records)
	}
	if primary.Peak != nil {
		snap.AverageMode = primary.Peak.AverageMode
	}
	if c.filter.ComparisonActive() {
		comparison, err := c.report(res.Comparison, filter.ComparisonDayCount(c.spec))
		if err != nil {
			return Snapshot{}, err
		}
		snap.Comparison = &comparison
		snap.ComparisonActive = true
		snap.ComparisonSelected = len(res.Comparison)
	}
	c.filtered = res.Primary
	c.snap = snap
	return snap, nil
}

// report aggregates one record subset. days is the length of the subset's
// own date range, used to average the peak-times view.
func (c *Controller) report(records []model.Purchase, days int) (Report, error) {
	r := Report{Total: aggregate.Total(records)}
	var err error
	switch c.kind {
	case Overview:
		ov := c.agg.Overview(records, c.year)
		r.Overview = &ov
		r.Rows, err = c.agg.By(records, aggregate.CSP)
	case CSPByCategory:
		if r.Rows, err = c.agg.By(records, aggregate.CSP); err != nil {
			return Report{}, err
		}
		r.Table, err = c.agg.CrossTab(records, aggregate.CSP, aggregate.Category)
	case CategoryByCSP:
		if r.Rows, err = c.agg.By(records, aggregate.Category); err != nil {
			return Report{}, err
		}
		r.Table, err = c.agg.CrossTab(records, aggregate.Category, aggregate.CSP)
	case AverageBasket:
		if r.Rows, err = c.agg.By(records, aggregate.CSP); err != nil {
			return Report{}, err
		}
		if r.Monthly, err = c.agg.By(records, aggregate.Month); err != nil {
			return Report{}, err
		}
		r.Table, err = c.agg.CrossTab(records, aggregate.CSP, aggregate.Category)
	case PeakTimes:
		var peak model.PeakTimes
		peak, err = c.agg.Hourly(records, days)
		r.Peak = &peak
		r.Table = peak.CrossTab
	default:
		return Report{}, fmt.Errorf("unknown view %q", c.kind)
	}
	if err != nil {
		return Report{}, err
	}
	return r, nil
}
