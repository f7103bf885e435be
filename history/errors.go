package history

import (
	"context"
	"errors"
	"net"
	"net/url"
)

// ErrProviderBuffer is the provider's sporadic per-chunk failure
// signature. It is detected from the response itself, never from
// message-text scraping, and triggers the adaptive sub-chunk descent.
var ErrProviderBuffer = errors.New("provider buffer exhausted")

// IsTransient reports whether the error looks like a recoverable network
// failure: DNS, dial, timeout, or a dropped connection. Transient errors
// earn one 30 s-delayed retry of the same chunk.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
