package economic

import (
	"fmt"
	"strings"

	"github.com/tickerwatch/scheduler/internal/model"
)

// FormatEvents renders events as one line per event for notification
// messages: time, description, then previous/forecast/actual.
func FormatEvents(events []model.EconomicEvent) string {
	var b strings.Builder
	for i, e := range events {
		if i > 0 {
			b.WriteByte('\n')
		}
		name := e.Description
		if name == "" {
			name = "Unknown Event"
		}
		fmt.Fprintf(&b, "%s  %s  prev=%s fcst=%s actual=%s",
			e.Time, name,
			valueOrDash(e.Previous),
			valueOrDash(e.Forecast),
			valueOrDash(e.Actual))
	}
	return b.String()
}

func valueOrDash(v *string) string {
	if v == nil || *v == "" {
		return "-"
	}
	return *v
}
