package scopus

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/miscite/citecrawl/internal/config"
	"github.com/miscite/citecrawl/internal/crawl"
)

// ContextSource supplies the shared browser context workers derive
// their tabs from.
type ContextSource interface {
	AcquireContext() context.Context
}

const noResultsSelector = "span[data-testid='no-results-with-suggestion']"

// MiscitedExecutor searches for documents matching a cited title and
// exports the result list. Units are single-key (the cited EID); the
// search query comes from the title resolved in the previous stage.
type MiscitedExecutor struct {
	src    ContextSource
	cfg    config.CrawlConfig
	base   string
	titles map[string]string
	logger *zap.Logger
}

var _ crawl.Executor = (*MiscitedExecutor)(nil)

// NewMiscitedExecutor constructs the executor. titles maps EID to the
// document title used as the search query.
func NewMiscitedExecutor(src ContextSource, base string, titles map[string]string, cfg config.CrawlConfig, logger *zap.Logger) *MiscitedExecutor {
	if base == "" {
		base = defaultBaseURL
	}
	return &MiscitedExecutor{src: src, cfg: cfg, base: base, titles: titles, logger: logger}
}

// Execute runs the search-and-export flow for one unit.
func (e *MiscitedExecutor) Execute(ctx context.Context, unit crawl.WorkUnit, dir string) (crawl.Disposition, error) {
	title := e.titles[unit.UnitKey]
	if title == "" {
		return 0, fmt.Errorf("no title known for %s", unit.UnitKey)
	}

	tabCtx, cancel := chromedp.NewContext(e.src.AcquireContext())
	defer cancel()
	tabCtx, timeoutCancel := context.WithTimeout(tabCtx, e.cfg.NavTimeout())
	defer timeoutCancel()
	// Bail out early when the run itself is canceled.
	stop := linkCancel(ctx, timeoutCancel)
	defer stop()

	if err := navigate(tabCtx, SearchURL(e.base, title)); err != nil {
		return 0, err
	}

	switch probe, err := e.probeResults(tabCtx); {
	case err != nil:
		return 0, err
	case probe == crawl.ProbeNoResults:
		e.logger.Debug("no search results", zap.String("unit", unit.UnitKey))
		return crawl.DispositionEmpty, nil
	}

	if err := chromedp.Run(tabCtx,
		chromedp.Click("input[aria-label='Select all'][type='checkbox']", chromedp.ByQuery),
		chromedp.Click(".export-dropdown button", chromedp.ByQuery),
		chromedp.Click("button[data-testid='export-to-csv']", chromedp.ByQuery),
	); err != nil {
		return 0, fmt.Errorf("export flow: %w", err)
	}

	target := filepath.Join(dir, unit.UnitKey+".csv")
	err := download(tabCtx, dir, target, e.cfg.DownloadTimeout(),
		chromedp.Click("button[data-testid='submit-export-button']", chromedp.ByQuery))
	if err != nil {
		return 0, err
	}
	return crawl.DispositionSuccess, nil
}

// probeResults distinguishes an empty result list from a page that
// simply has not rendered the marker.
func (e *MiscitedExecutor) probeResults(ctx context.Context) (crawl.ProbeResult, error) {
	found, err := probeSelector(ctx, noResultsSelector, e.cfg.ProbeTimeout())
	if err != nil {
		return crawl.ProbeIndeterminate, err
	}
	if found {
		return crawl.ProbeNoResults, nil
	}
	return crawl.ProbeHasResults, nil
}
