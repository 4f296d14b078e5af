// Package ids generates the identifiers used by the offline order queue.
package ids

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// QueuePrefix marks identifiers generated on-device for queued orders.
const QueuePrefix = "offline_"

var (
	queueIDRegex     = regexp.MustCompile(`^offline_[0-9]+_[0-9a-f]{12}$`)
	orderNumberRegex = regexp.MustCompile(`^CAT-[0-9]{6}$`)
)

// NewQueueID returns a locally unique identifier for a pending order:
// offline_<unix millis>_<12 hex chars of a random UUID>.
func NewQueueID(now time.Time) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%s%d_%s", QueuePrefix, now.UnixMilli(), random[:12])
}

// IsQueueID reports whether s has the shape produced by NewQueueID.
func IsQueueID(s string) bool {
	return queueIDRegex.MatchString(s)
}

// NewOrderNumber returns a human readable order number of the form
// CAT-xxxxxx built from the last six digits of the millisecond clock.
func NewOrderNumber(now time.Time) string {
	return fmt.Sprintf("CAT-%06d", now.UnixMilli()%1_000_000)
}

// IsOrderNumber reports whether s has the shape produced by NewOrderNumber.
func IsOrderNumber(s string) bool {
	return orderNumberRegex.MatchString(s)
}
