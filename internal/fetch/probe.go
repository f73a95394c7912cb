package fetch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// titleScript prefers the Open Graph title, which sites keep free of
// branding suffixes.
const titleScript = `(() => {
	const og = document.querySelector('meta[property="og:title"]');
	return (og && og.content) || document.title || "";
})()`

// PageProbe loads a page in headless Chrome to read its title.
type PageProbe struct {
	timeout time.Duration
	logger  *zap.Logger
}

// NewPageProbe creates a probe with a 45 second budget per page.
func NewPageProbe(logger *zap.Logger) *PageProbe {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PageProbe{timeout: 45 * time.Second, logger: logger}
}

// Title navigates to pageURL and returns its cleaned title.
func (p *PageProbe) Title(ctx context.Context, pageURL string) (string, error) {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, chromedp.DefaultExecAllocatorOptions[:]...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()
	runCtx, cancel := context.WithTimeout(browserCtx, p.timeout)
	defer cancel()

	p.logger.Debug("probing page title", zap.String("url", pageURL))
	var title string
	err := chromedp.Run(runCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body"),
		chromedp.Evaluate(titleScript, &title, func(ep *runtime.EvaluateParams) *runtime.EvaluateParams {
			return ep.WithAwaitPromise(true)
		}),
	)
	if err != nil {
		return "", fmt.Errorf("probe %s: %w", pageURL, err)
	}
	title = cleanPageTitle(title)
	if title == "" {
		return "", fmt.Errorf("probe %s: page has no title", pageURL)
	}
	return title, nil
}

var titleSuffixes = []string{" - YouTube", "_哔哩哔哩_bilibili", " | Vimeo"}

func cleanPageTitle(title string) string {
	title = strings.TrimSpace(title)
	for _, suffix := range titleSuffixes {
		title = strings.TrimSuffix(title, suffix)
	}
	return strings.TrimSpace(title)
}
