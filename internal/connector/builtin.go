package connector

import (
	"net/http"

	"github.com/sells-group/list-enricher/internal/resilience"
)

// Options configures the built-in connector types.
type Options struct {
	SalesforceRPS float64
	NotionRPS     float64
	HTTPClient    *http.Client
	Retry         resilience.RetryConfig
}

// NewDefaultRegistry registers the salesforce, notion and webhook types.
func NewDefaultRegistry(cipher *Cipher, opts Options) *Registry {
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = resilience.DefaultRetryConfig()
	}
	r := NewRegistry(cipher)
	r.Register(SalesforceType(DialSalesforce(opts.SalesforceRPS)))
	r.Register(NotionType(DialNotion(opts.NotionRPS)))
	r.Register(WebhookType(opts.HTTPClient, opts.Retry))
	return r
}
