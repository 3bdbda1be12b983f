package retrieval

import (
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

var dateParser = when.New(nil)

func init() {
	dateParser.Add(en.All...)
	dateParser.Add(common.All...)
}

// ParseDateRange extracts a natural-language time reference from the query
// ("notes from last monday", "uploads since 2 weeks ago") and returns it as
// a lower bound. Queries without a recognizable reference get no bounds.
func ParseDateRange(query string, base time.Time) (from, to *time.Time) {
	result, err := dateParser.Parse(query, base)
	if err != nil || result == nil {
		return nil, nil
	}

	t := result.Time
	if t.After(base) {
		// A future reference ("by tomorrow") bounds from above instead.
		return nil, &t
	}
	return &t, nil
}
