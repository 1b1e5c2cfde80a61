package utils

import (
	"context"
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"bitbucket.org/sapphirefountains/calsync_backend/config"
	"github.com/bsm/redislock"
)

var htmlTagPattern = regexp.MustCompile(`(?s)<[^>]*>`)

// StripHTML removes markup from user-entered rich text so it can be used in
// plain-text calendar fields.
func StripHTML(value string) string {
	stripped := htmlTagPattern.ReplaceAllString(value, " ")
	stripped = html.UnescapeString(stripped)
	return strings.Join(strings.Fields(stripped), " ")
}

// TruncateSubject shortens a calendar summary to maxLen runes, appending an
// ellipsis. Remote calendars reject over-long summaries.
func TruncateSubject(subject string, maxLen int) string {
	runes := []rune(subject)
	if len(runes) <= maxLen {
		return subject
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

var datetimeLayouts = []string{
	"2006-01-02 15:04:05.000000",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseDatetime accepts the datetime spellings the document store emits.
func ParseDatetime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty datetime string")
	}
	for _, layout := range datetimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized datetime %q", value)
}

// NormalizeDatetime reformats any accepted datetime spelling to the canonical
// "YYYY-MM-DD HH:MM:SS" form in UTC, so spellings carrying a zone offset
// compare by instant rather than wall clock. Values that do not parse are
// returned trimmed, so non-datetime fields compare as plain strings.
func NormalizeDatetime(value string) string {
	t, err := ParseDatetime(value)
	if err != nil {
		return strings.TrimSpace(value)
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

// RecordLock serializes reconciliation per record across worker instances.
// The caller must invoke the returned release function when done.
func RecordLock(ctx context.Context, recordType string, recordId string, moduleName string, functionName string) (func(), error) {
	logger := config.GetLogger()
	locker := config.GetRedisLock()
	if locker == nil {
		// Avoid nil-pointer panics when Redis lock isn't initialized yet.
		config.LogError(logger, moduleName, functionName, "Redis lock not initialized", recordId, errors.New("redis lock is nil"))
		return nil, errors.New("service not ready (redis lock not initialized)")
	}
	lockKey := fmt.Sprintf("calsync:%s:%s", recordType, recordId)
	lock, err := locker.Obtain(ctx, lockKey, 60*time.Second, nil)
	if err == redislock.ErrNotObtained {
		config.LogError(logger, moduleName, functionName, "Could not obtain record lock", lockKey, err)
		return nil, errors.New("could not obtain record lock")
	} else if err != nil {
		config.LogError(logger, moduleName, functionName, "Error obtaining record lock", lockKey, err)
		return nil, err
	}
	return func() {
		_ = lock.Release(context.Background())
	}, nil
}
