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

const selectAllSelector = "label[for='mainResults-allPageCheckBox']"

// CitingExecutor exports the cited-by listing for one
// (CitedEID, MiscitedEID) pair. The listing page has no explicit
// zero-results marker up front, so emptiness is detected when the
// select-all control never appears but the no-results marker does.
type CitingExecutor struct {
	src    ContextSource
	cfg    config.CrawlConfig
	base   string
	logger *zap.Logger
}

var _ crawl.Executor = (*CitingExecutor)(nil)

// NewCitingExecutor constructs the executor.
func NewCitingExecutor(src ContextSource, base string, cfg config.CrawlConfig, logger *zap.Logger) *CitingExecutor {
	if base == "" {
		base = defaultBaseURL
	}
	return &CitingExecutor{src: src, cfg: cfg, base: base, logger: logger}
}

// Execute runs the cited-by export flow for one pair.
func (e *CitingExecutor) Execute(ctx context.Context, unit crawl.WorkUnit, dir string) (crawl.Disposition, error) {
	tabCtx, cancel := chromedp.NewContext(e.src.AcquireContext())
	defer cancel()
	tabCtx, timeoutCancel := context.WithTimeout(tabCtx, e.cfg.NavTimeout())
	defer timeoutCancel()
	stop := linkCancel(ctx, timeoutCancel)
	defer stop()

	if err := navigate(tabCtx, CitedByURL(e.base, unit.UnitKey)); err != nil {
		return 0, err
	}

	// The select-all control doubles as the has-results probe.
	hasResults, err := probeSelector(tabCtx, selectAllSelector, e.cfg.ProbeTimeout())
	if err != nil {
		return 0, err
	}
	if !hasResults {
		noResults, err := probeSelector(tabCtx, noResultsSelector, e.cfg.ProbeTimeout())
		if err != nil {
			return 0, err
		}
		if noResults {
			e.logger.Debug("no citing documents",
				zap.String("parent", unit.ParentKey), zap.String("unit", unit.UnitKey))
			return crawl.DispositionEmpty, nil
		}
		return 0, fmt.Errorf("result list never appeared for %s", unit.UnitKey)
	}

	if err := chromedp.Run(tabCtx,
		chromedp.Click(selectAllSelector, chromedp.ByQuery),
		chromedp.Click("button#export_results", chromedp.ByQuery),
		chromedp.Click("label[for='CSV']", chromedp.ByQuery),
	); err != nil {
		return 0, fmt.Errorf("export flow: %w", err)
	}

	target := filepath.Join(dir, unit.UnitKey+".csv")
	err = download(tabCtx, dir, target, e.cfg.DownloadTimeout(),
		chromedp.Click("button#exportTrigger", chromedp.ByQuery))
	if err != nil {
		return 0, err
	}
	return crawl.DispositionSuccess, nil
}
