package calsync

import "time"

// typeRule fixes, per record type, which fields feed the calendar event and
// which statuses end its life. All per-type variation lives in this table;
// the rest of the engine is type-agnostic.
type typeRule struct {
	// Ordered candidates; the first non-empty field wins. Explicit calendar
	// override fields come before the type's natural date fields.
	startFields []string
	endFields   []string
	// dueField is for types whose only natural anchor is a single instant;
	// an end is synthesized at due + defaultEventDuration.
	dueField string

	titleField  string
	titlePrefix string

	terminalStatuses []string
}

const (
	// defaultEventDuration fills in the end for due-date-only types.
	defaultEventDuration = time.Hour
	// minimumEventDuration replaces inverted start/end windows; the remote
	// API rejects end <= start outright.
	minimumEventDuration = 15 * time.Minute
	// maxSubjectLen is the remote summary limit.
	maxSubjectLen = 140
)

var typeRules = map[string]typeRule{
	RecordTypeTask: {
		startFields:      []string{"custom_calendar_datetime_start", "exp_start_date"},
		endFields:        []string{"custom_calendar_datetime_end", "exp_end_date"},
		titleField:       "subject",
		titlePrefix:      "Task",
		terminalStatuses: []string{"Cancelled", "Closed"},
	},
	RecordTypeToDo: {
		startFields:      []string{"custom_calendar_datetime_start"},
		endFields:        []string{"custom_calendar_datetime_end"},
		dueField:         "date",
		titleField:       "description",
		titlePrefix:      "ToDo",
		terminalStatuses: []string{"Cancelled"},
	},
	RecordTypeProject: {
		startFields:      []string{"custom_calendar_datetime_start", "expected_start_date"},
		endFields:        []string{"custom_calendar_datetime_end", "expected_end_date"},
		titleField:       "project_name",
		titlePrefix:      "Project",
		terminalStatuses: []string{"Cancelled"},
	},
	RecordTypeEvent: {
		startFields:      []string{"starts_on"},
		endFields:        []string{"ends_on"},
		titleField:       "subject",
		titlePrefix:      "Event",
		terminalStatuses: []string{"Cancelled"},
	},
}

func ruleFor(recordType string) (typeRule, bool) {
	rule, ok := typeRules[recordType]
	return rule, ok
}

// IsSupportedRecordType reports whether the engine syncs this type at all.
func IsSupportedRecordType(recordType string) bool {
	_, ok := typeRules[recordType]
	return ok
}

// watchFields is the per-type list the change detector compares: everything
// the projector reads, plus status.
func (r typeRule) watchFields() []string {
	fields := make([]string, 0, len(r.startFields)+len(r.endFields)+5)
	fields = append(fields, r.startFields...)
	fields = append(fields, r.endFields...)
	if r.dueField != "" {
		fields = append(fields, r.dueField)
	}
	fields = append(fields, r.titleField, "location", "status")
	return fields
}

func (r typeRule) isTerminalStatus(status string) bool {
	for _, s := range r.terminalStatuses {
		if s == status {
			return true
		}
	}
	return false
}
