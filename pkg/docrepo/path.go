package docrepo

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// ErrUnresolvedPath is returned by strict repositories when a collection
// path still contains placeholders after resolution.
var ErrUnresolvedPath = errors.New("unresolved collection path")

var placeholderPattern = regexp.MustCompile(`\{[0-9]+\}`)

// ResolvePath substitutes values into a collection path template.
//
// The value at index i replaces the first remaining occurrence of the
// token "{i}". Extra values are ignored and placeholders without a value
// are left in place:
//
//	ResolvePath("{0}/items/{1}/entities", "tenantId", "itemId")
//	// "tenantId/items/itemId/entities"
func ResolvePath(template string, values ...string) string {
	path := template
	for i, value := range values {
		path = strings.Replace(path, "{"+strconv.Itoa(i)+"}", value, 1)
	}
	return path
}

// UnresolvedPlaceholders returns the placeholder tokens left in path, in
// order of appearance.
func UnresolvedPlaceholders(path string) []string {
	return placeholderPattern.FindAllString(path, -1)
}
