package calsync

import "bitbucket.org/sapphirefountains/calsync_backend/utils"

// shouldSync decides whether a record mutation warrants remote calls. It is
// the sole guard against needless remote traffic and errs toward re-syncing:
// no snapshot, an undecided status, or an unsupported comparison all return
// true.
func shouldSync(recordType string, fields map[string]string, hasSnapshot bool, snapshot map[string]string) bool {
	rule, supported := ruleFor(recordType)
	if !supported {
		return false
	}
	if !hasSnapshot {
		return true
	}
	if fields["status"] == "" {
		return true
	}

	for _, name := range rule.watchFields() {
		current := utils.NormalizeDatetime(fields[name])
		previous := utils.NormalizeDatetime(snapshot[name])
		if current != previous {
			return true
		}
	}
	return false
}

// snapshotFields is what gets persisted after a successful reconciliation,
// for the next comparison.
func snapshotFields(recordType string, fields map[string]string) map[string]string {
	rule, supported := ruleFor(recordType)
	if !supported {
		return nil
	}
	snap := make(map[string]string, len(fields))
	for _, name := range rule.watchFields() {
		snap[name] = fields[name]
	}
	return snap
}
