package proxywire

import "net/http"

// HopByHop lists the headers that apply only to a single transport-layer
// connection and must not be forwarded through a proxy.
var HopByHop = []string{
	"Connection",
	"Proxy-Connection",
	"Transfer-Encoding",
	"Upgrade",
	"Keep-Alive",
	"TE",
	"Trailer",
	"Proxy-Authenticate",
	"Proxy-Authorization",
}

// StripHopByHop removes every hop-by-hop header from h in place.
func StripHopByHop(h http.Header) {
	for _, name := range HopByHop {
		h.Del(name)
	}
}
