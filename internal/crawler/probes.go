package crawler

import (
	"net/url"

	"github.com/user/site-crawler/pkg/utils"
)

// DefaultProbePaths are requested alongside the seed when probes are enabled.
// They are expected to produce error responses on most sites, so a run
// always exercises the failure paths of classification and storage.
var DefaultProbePaths = []string{
	"/__crawler_probe_missing__",
	"/__crawler_probe_error__",
	"/admin",
}

// ProbeURLs resolves paths against origin, keeping only same-origin results.
func ProbeURLs(origin *url.URL, paths []string) []string {
	var out []string
	for _, p := range paths {
		abs, err := utils.ToAbsoluteURL(origin, p)
		if err != nil {
			continue
		}
		u, err := url.Parse(abs)
		if err != nil || !SameOrigin(origin, u) {
			continue
		}
		out = append(out, abs)
	}
	return out
}
