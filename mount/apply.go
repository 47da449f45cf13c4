package mount

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/c360/agentsdk/errors"
	"github.com/c360/agentsdk/store"
)

// Accessor is handed to participants once every mount is in place.
type Accessor interface {
	// Region returns the bucket bound to name and the mode it was mounted
	// with. ok is false when the store does not provide the region; such
	// regions degrade to stubs.
	Region(name string) (b store.Bucket, mode store.AccessMode, ok bool)
	// Snapshot returns the entries the region held when it was mounted.
	// Later changes arrive through the region's feed.
	Snapshot(name string) []store.Entry
}

type region struct {
	bucket   store.Bucket
	mode     store.AccessMode
	snapshot []store.Entry
	watcher  store.Watcher
}

// Mounted is a Group applied to a Store. It implements Accessor and owns the
// watchers that feed dispatch.
type Mounted struct {
	regions map[string]*region
	order   []string
	missing []string

	mu     sync.Mutex // guards watcher and snapshot swaps
	closed bool
}

// Apply opens a bucket for every requirement in g, reads its initial snapshot
// and keeps its watcher for regions mounted with notifications. Regions the
// store does not provide are skipped and reported by Missing. Any other store
// error aborts the mount and releases what was opened so far.
func Apply(ctx context.Context, st store.Store, g *Group, logger *slog.Logger) (*Mounted, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Mounted{regions: make(map[string]*region)}

	for _, req := range g.Requirements() {
		log := logger.With("region", req.Region, "mode", req.Mode.String())

		bucket, err := st.Bucket(ctx, req.Region)
		if stderrors.Is(err, errors.ErrRegionNotFound) {
			log.Info("Region not provided by store, mounting as stub")
			m.missing = append(m.missing, req.Region)
			continue
		}
		if err != nil {
			m.Close()
			return nil, errors.WrapFatal(err, "mount", "Apply", fmt.Sprintf("open region %s", req.Region))
		}

		r, err := mountRegion(ctx, bucket, req.Mode)
		if err != nil {
			m.Close()
			return nil, errors.WrapFatal(err, "mount", "Apply", fmt.Sprintf("snapshot region %s", req.Region))
		}
		m.regions[req.Region] = r
		m.order = append(m.order, req.Region)
		log.Debug("Region mounted", "entries", len(r.snapshot), "bucket", bucket.Name())
	}

	return m, nil
}

func mountRegion(ctx context.Context, bucket store.Bucket, mode store.AccessMode) (*region, error) {
	w, err := bucket.Watch(ctx)
	if err != nil {
		return nil, err
	}

	r := &region{bucket: bucket, mode: mode}
	for done := false; !done; {
		select {
		case e, ok := <-w.Updates():
			if !ok {
				return nil, errors.ErrWatchFailed
			}
			if e == nil {
				done = true
				continue
			}
			if e.Op == store.OpPut {
				r.snapshot = append(r.snapshot, *e)
			}
		case <-ctx.Done():
			_ = w.Stop()
			return nil, ctx.Err()
		}
	}

	if mode.Notifies() {
		r.watcher = w
	} else {
		_ = w.Stop()
	}
	return r, nil
}

// Region implements Accessor.
func (m *Mounted) Region(name string) (store.Bucket, store.AccessMode, bool) {
	r, ok := m.regions[name]
	if !ok {
		return nil, 0, false
	}
	return r.bucket, r.mode, true
}

// Snapshot implements Accessor.
func (m *Mounted) Snapshot(name string) []store.Entry {
	r, ok := m.regions[name]
	if !ok {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return r.snapshot
}

// Regions lists the mounted regions in mount order.
func (m *Mounted) Regions() []string {
	return m.order
}

// Missing lists the regions the store did not provide.
func (m *Mounted) Missing() []string {
	return m.missing
}

// Feeds returns the update streams of the regions mounted with
// notifications.
func (m *Mounted) Feeds() []store.Feed {
	m.mu.Lock()
	defer m.mu.Unlock()
	var feeds []store.Feed
	for _, name := range m.order {
		if w := m.regions[name].watcher; w != nil {
			feeds = append(feeds, store.Feed{Region: name, Updates: w.Updates()})
		}
	}
	return feeds
}

// Rewatch replaces the watcher of a region mounted with notifications,
// typically after its feed closed. It returns the region's fresh snapshot and
// the feed of the new watcher.
func (m *Mounted) Rewatch(ctx context.Context, name string) ([]store.Entry, store.Feed, error) {
	r, ok := m.regions[name]
	if !ok || !r.mode.Notifies() {
		return nil, store.Feed{}, errors.WrapInvalid(errors.ErrRegionNotFound, "mount", "Rewatch",
			fmt.Sprintf("rewatch region %s", name))
	}

	fresh, err := mountRegion(ctx, r.bucket, r.mode)
	if err != nil {
		return nil, store.Feed{}, errors.WrapTransient(err, "mount", "Rewatch", fmt.Sprintf("watch region %s", name))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		_ = fresh.watcher.Stop()
		return nil, store.Feed{}, errors.WrapInvalid(errors.ErrShuttingDown, "mount", "Rewatch", fmt.Sprintf("rewatch region %s", name))
	}
	if r.watcher != nil {
		_ = r.watcher.Stop()
	}
	r.watcher = fresh.watcher
	r.snapshot = fresh.snapshot
	return fresh.snapshot, store.Feed{Region: name, Updates: fresh.watcher.Updates()}, nil
}

// Close stops every watcher. It is safe to call more than once.
func (m *Mounted) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	var errs []error
	for _, name := range m.order {
		if w := m.regions[name].watcher; w != nil {
			if err := w.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("region %s: %w", name, err))
			}
		}
	}
	return stderrors.Join(errs...)
}
