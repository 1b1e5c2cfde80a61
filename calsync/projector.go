package calsync

import (
	"fmt"
	"time"

	"bitbucket.org/sapphirefountains/calsync_backend/utils"
)

// projectPayload builds the event content for one record from its field map.
// ok is false when no usable start exists after every fallback; such records
// stay unsynced until a later change supplies dates. Pure and deterministic.
func projectPayload(recordType string, recordId string, fields map[string]string) (SyncPayload, bool) {
	rule, supported := ruleFor(recordType)
	if !supported {
		return SyncPayload{}, false
	}

	start, startOk := firstDatetime(fields, rule.startFields)
	end, endOk := firstDatetime(fields, rule.endFields)

	if !startOk && rule.dueField != "" {
		if due, ok := parseField(fields, rule.dueField); ok {
			start, startOk = due, true
		}
	}
	if !startOk {
		return SyncPayload{}, false
	}
	if !endOk {
		end = start.Add(defaultEventDuration)
	}

	title := utils.StripHTML(fields[rule.titleField])
	if title == "" {
		title = recordId
	}
	title = utils.TruncateSubject(fmt.Sprintf("%s: %s", rule.titlePrefix, title), maxSubjectLen)

	return SyncPayload{
		Start:       start,
		End:         end,
		Title:       title,
		Description: backlinkDescription(rule.titlePrefix, recordId),
		Location:    utils.StripHTML(fields["location"]),
	}, true
}

// backlinkDescription is the stable marker tying a remote event back to its
// source record.
func backlinkDescription(prefix string, recordId string) string {
	return fmt.Sprintf("Linked %s: %s", prefix, recordId)
}

func firstDatetime(fields map[string]string, candidates []string) (time.Time, bool) {
	for _, name := range candidates {
		if t, ok := parseField(fields, name); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseField(fields map[string]string, name string) (time.Time, bool) {
	raw, present := fields[name]
	if !present || raw == "" {
		return time.Time{}, false
	}
	t, err := utils.ParseDatetime(raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ensureWindow enforces end > start, substituting a minimum-duration window
// instead of rejecting the payload.
func ensureWindow(payload SyncPayload) SyncPayload {
	if !payload.End.After(payload.Start) {
		payload.End = payload.Start.Add(minimumEventDuration)
	}
	return payload
}
