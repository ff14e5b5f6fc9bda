package cli

import (
	"context"
	"io"
	"sync"

	"github.com/pfrederiksen/dpwh-projects/internal/logger"
	"github.com/pfrederiksen/dpwh-projects/internal/notifier"
	"github.com/pfrederiksen/dpwh-projects/internal/project"
	"github.com/pfrederiksen/dpwh-projects/internal/storage"
)

// changeRecorder passes appends through to a change log and remembers the
// events until they are drained.
type changeRecorder struct {
	storage.ChangeLog

	mu     sync.Mutex
	events []*project.ChangeEvent
}

func (r *changeRecorder) Append(ctx context.Context, evt *project.ChangeEvent) error {
	if err := r.ChangeLog.Append(ctx, evt); err != nil {
		return err
	}
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
	return nil
}

// Drain returns the recorded events and forgets them.
func (r *changeRecorder) Drain() []*project.ChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	events := r.events
	r.events = nil
	return events
}

// newNotifier builds the configured notifier, or nil when notifications are
// off. Dry runs never publish.
func (a *app) newNotifier(w io.Writer, dryRun bool) (notifier.Notifier, error) {
	cfg := a.cfg.Notify
	switch {
	case cfg.Target == "" || cfg.Target == "none":
		return nil, nil
	case cfg.Target == "log" || dryRun:
		return notifier.NewDryRunNotifier(w), nil
	}

	tw, err := notifier.NewTwitterNotifier(notifier.Credentials{
		APIKey:       cfg.Twitter.APIKey,
		APISecret:    cfg.Twitter.APISecret,
		AccessToken:  cfg.Twitter.AccessToken,
		AccessSecret: cfg.Twitter.AccessSecret,
	})
	if err != nil {
		return nil, err
	}
	if cfg.Interval > 0 {
		tw.SetInterval(cfg.Interval)
	}
	return tw, nil
}

// notifyChanges sends the changes recorded since the last call. Failures are
// logged, not returned: the changes are already saved.
func (a *app) notifyChanges(ctx context.Context, n notifier.Notifier) {
	changes := a.backend.recorder.Drain()
	if n == nil || len(changes) == 0 {
		return
	}

	types := make([]project.ChangeType, 0, len(a.cfg.Notify.Types))
	for _, t := range a.cfg.Notify.Types {
		types = append(types, project.ChangeType(t))
	}
	selected := notifier.Limit(notifier.Filter(changes, types...), a.cfg.Notify.MaxPosts)
	if len(selected) == 0 {
		return
	}

	if err := n.Notify(ctx, selected); err != nil {
		a.log.Error("Failed to send change notifications", logger.Fields{"count": len(selected)}, err)
		return
	}
	a.log.Info("Sent change notifications", logger.Fields{"count": len(selected), "target": a.cfg.Notify.Target})
}
