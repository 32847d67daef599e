// Package webfetch loads a web page as text for enrichment context. Jina
// Reader is tried first; a direct fetch through go-readability is the
// fallback.
package webfetch

import (
	"context"
	"io"
	"net/http"
	nurl "net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/list-enricher/internal/resilience"
	"github.com/sells-group/list-enricher/pkg/jina"
)

const maxBodySize = 5 * 1024 * 1024

// Fetcher fetches pages.
type Fetcher struct {
	reader jina.Client
	http   *http.Client
	retry  resilience.RetryConfig
}

// New creates a Fetcher. reader may be nil to always fetch directly.
func New(reader jina.Client, hc *http.Client) *Fetcher {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("webfetch", "get")
	return &Fetcher{reader: reader, http: hc, retry: retry}
}

// Fetch returns the page content as markdown or plain text.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	u, err := nurl.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", eris.Errorf("webfetch: invalid url %q", rawURL)
	}

	if f.reader != nil {
		resp, err := f.reader.Read(ctx, rawURL)
		if err == nil && strings.TrimSpace(resp.Data.Content) != "" {
			return resp.Data.Content, nil
		}
		zap.L().Debug("webfetch: reader failed, fetching directly", zap.String("url", rawURL), zap.Error(err))
	}
	return f.direct(ctx, u)
}

func (f *Fetcher) direct(ctx context.Context, u *nurl.URL) (string, error) {
	body, err := resilience.DoVal(ctx, f.retry, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, eris.Wrap(err, "webfetch: create request")
		}
		req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; list-enricher/1.0)")
		req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

		resp, err := f.http.Do(req)
		if err != nil {
			return nil, eris.Wrap(err, "webfetch: get")
		}
		defer resp.Body.Close() //nolint:errcheck

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		if err != nil {
			return nil, eris.Wrap(err, "webfetch: read body")
		}
		if resp.StatusCode != http.StatusOK {
			return nil, resilience.HTTPStatusError("webfetch", resp.StatusCode, string(data))
		}
		return data, nil
	})
	if err != nil {
		return "", err
	}

	article, err := readability.FromReader(strings.NewReader(string(body)), u)
	if err != nil {
		return "", eris.Wrapf(err, "webfetch: readability %s", u)
	}
	text := normalize(article.TextContent)
	if article.Title != "" && !strings.HasPrefix(text, article.Title) {
		text = "# " + article.Title + "\n\n" + text
	}
	return text, nil
}

var (
	multiSpace   = regexp.MustCompile(`[ \t]+`)
	multiNewline = regexp.MustCompile(`\n{3,}`)
)

func normalize(s string) string {
	s = strings.TrimSpace(s)
	s = multiSpace.ReplaceAllString(s, " ")
	return multiNewline.ReplaceAllString(s, "\n\n")
}

// Truncate cuts content to roughly maxTokens tokens at four characters per
// token. maxTokens <= 0 leaves content unchanged.
func Truncate(content string, maxTokens int) string {
	if maxTokens <= 0 {
		return content
	}
	limit := maxTokens * 4
	runes := []rune(content)
	if len(runes) <= limit {
		return content
	}
	return string(runes[:limit]) + "\n... [truncated]"
}
