package source

import "strings"

// Filter holds keyword lists for content matching. An empty include list
// matches everything; exclusions always win.
type Filter struct {
	include []string
	exclude []string
}

// NewFilter creates a case-insensitive keyword filter.
func NewFilter(includeKeywords, excludeKeywords []string) *Filter {
	include := make([]string, len(includeKeywords))
	for i, kw := range includeKeywords {
		include[i] = strings.ToLower(kw)
	}

	exclude := make([]string, len(excludeKeywords))
	for i, kw := range excludeKeywords {
		exclude[i] = strings.ToLower(kw)
	}

	return &Filter{include: include, exclude: exclude}
}

// Matches returns true if text passes the include/exclude keyword rules.
func (f *Filter) Matches(text string) bool {
	lower := strings.ToLower(text)

	for _, ex := range f.exclude {
		if strings.Contains(lower, ex) {
			return false
		}
	}

	if len(f.include) == 0 {
		return true
	}
	for _, kw := range f.include {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
