package buffer

// isSuperseded reports whether a buffered notification has already been
// overtaken by a newer message in the same session — the latest-wins
// admission check shared by insert-entry and buffer-process (§4.5 step 1,
// §9 "stale buffer-process delivery is a benign no-op").
func isSuperseded(latestPendingID, notificationMessageID string) bool {
	return latestPendingID == "" || latestPendingID != notificationMessageID
}

// belowThreshold reports whether a session's pending count has not yet
// reached the turn count that triggers an immediate flush, meaning the
// buffer should instead wait for the idle timeout (§4.5 step 2).
func belowThreshold(pending, maxTurns int) bool {
	return pending < maxTurns
}

// isOverflow reports whether a session accumulated more pending messages
// than one flush's claim limit can drain, meaning a second flush must be
// scheduled for the remainder (§4.5 step 4).
func isOverflow(pendingAtCheck, limit int) bool {
	return pendingAtCheck > limit
}
