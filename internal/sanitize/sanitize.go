// Package sanitize strips unsafe markup from user supplied HTML.
package sanitize

import (
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	once   sync.Once
	policy *bluemonday.Policy
)

func ugc() *bluemonday.Policy {
	once.Do(func() {
		policy = bluemonday.UGCPolicy()
		policy.AllowAttrs("class").OnElements("code", "pre", "span")
	})
	return policy
}

// HTML returns s with scripts, event handlers and unsafe URLs removed.
func HTML(s string) string {
	if s == "" {
		return ""
	}
	return ugc().Sanitize(s)
}
