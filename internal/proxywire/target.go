package proxywire

import (
	"fmt"
	"net/http"
	"net/url"
)

// ResolveTarget determines the absolute URL the shore dispatcher should
// fetch: if the request line carried an absolute-form URI, req.URL is
// already absolute; otherwise combine the Host header with the
// origin-form path.
func ResolveTarget(req *http.Request) (*url.URL, error) {
	if req.URL.IsAbs() {
		return req.URL, nil
	}

	host := req.Host
	if host == "" {
		host = req.Header.Get("Host")
	}
	if host == "" {
		return nil, fmt.Errorf("proxywire: request has no Host and no absolute-form URI")
	}

	target := *req.URL
	target.Scheme = "http"
	target.Host = host
	return &target, nil
}
