package scopus

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/miscite/citecrawl/internal/crawl"
)

// docMeta captures the status of the main document response for a
// tab, used to detect auth rejection after navigation.
type docMeta struct {
	mu     sync.Mutex
	status int
}

func (m *docMeta) capture(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(resp.Response.Status)
	m.mu.Unlock()
}

func (m *docMeta) get() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// navigate loads url in the tab and returns an error when the
// document response indicates the session was rejected.
func navigate(ctx context.Context, url string) error {
	meta := &docMeta{}
	chromedp.ListenTarget(ctx, meta.capture)

	err := chromedp.Run(ctx,
		network.Enable(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500*time.Millisecond),
	)
	if err != nil {
		return fmt.Errorf("navigate: %w", err)
	}

	switch meta.get() {
	case http.StatusUnauthorized, http.StatusForbidden:
		return crawl.ErrAuthRejected
	}
	return nil
}

// linkCancel cancels the unit's tab when the run context ends. The
// returned stop must be deferred by the caller; unlike a watcher
// goroutine it releases immediately when the unit finishes instead of
// lingering until the run does.
func linkCancel(run context.Context, cancel context.CancelFunc) func() bool {
	return context.AfterFunc(run, cancel)
}

// probeSelector waits up to timeout for sel to become visible. A
// clean expiry means the element is absent; any other failure is
// indeterminate and reported with its cause.
func probeSelector(ctx context.Context, sel string, timeout time.Duration) (bool, error) {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := chromedp.Run(probeCtx, chromedp.WaitVisible(sel, chromedp.ByQuery))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		return false, nil
	default:
		return false, fmt.Errorf("probe %s: %w", sel, err)
	}
}

// download arms the browser's download capture for dir, runs trigger,
// and waits (bounded) for the download to complete, renaming the
// result to target. A hung download expires the wait and fails the
// unit instead of pinning a worker slot forever.
func download(ctx context.Context, dir, target string, timeout time.Duration, trigger chromedp.Action) error {
	completed := make(chan string, 1)
	chromedp.ListenTarget(ctx, func(ev any) {
		if e, ok := ev.(*browser.EventDownloadProgress); ok &&
			e.State == browser.DownloadProgressStateCompleted {
			select {
			case completed <- e.GUID:
			default:
			}
		}
	})

	err := chromedp.Run(ctx,
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllowAndName).
			WithDownloadPath(dir).
			WithEventsEnabled(true),
		trigger,
	)
	if err != nil {
		return fmt.Errorf("trigger download: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case guid := <-completed:
		if err := os.Rename(filepath.Join(dir, guid), target); err != nil {
			return fmt.Errorf("move download: %w", err)
		}
		return nil
	case <-timer.C:
		return errDownloadTimeout
	case <-ctx.Done():
		return fmt.Errorf("download wait: %w", ctx.Err())
	}
}

var errDownloadTimeout = errors.New("download wait expired")
