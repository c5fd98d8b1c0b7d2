package fetchpool

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"
)

func contextWithTimeout(req *http.Request, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(req.Context(), d)
}

// isRedirectPolicyError reports whether err is the *url.Error Go's client
// wraps errRedirectPolicy in when CheckRedirect rejects a hop.
func isRedirectPolicyError(err error) bool {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return errors.Is(uerr.Err, errRedirectPolicy)
	}
	return errors.Is(err, errRedirectPolicy)
}
