package external

import (
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
)

// ClientOptions configures the outbound Stripe client. Retries cover
// transient network failures only; declines and validation errors are
// returned to the caller on the first attempt.
type ClientOptions struct {
	Key               string
	RequestTimeout    time.Duration
	MaxNetworkRetries int64
}

// NewStripeClient returns a Stripe API client with a fixed request timeout
// and a bounded number of automatic retries
func NewStripeClient(option ClientOptions) *client.API {
	if option.RequestTimeout == 0 {
		option.RequestTimeout = time.Second * 15
	}
	if option.MaxNetworkRetries == 0 {
		option.MaxNetworkRetries = 2
	}
	config := &stripe.BackendConfig{
		HTTPClient: &http.Client{
			Timeout: option.RequestTimeout,
		},
		MaxNetworkRetries: stripe.Int64(option.MaxNetworkRetries),
	}
	sc := &client.API{}
	sc.Init(option.Key, &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, config),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, config),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, config),
	})
	return sc
}
