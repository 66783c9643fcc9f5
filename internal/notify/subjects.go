package notify

import "strings"

// Subject returns the subject lifecycle events are published on:
// <prefix>.<project>.<event type>, e.g. stackup.shop.services.ready.
func Subject(prefix, project, eventType string) string {
	return strings.Join([]string{prefix, sanitizeToken(project), eventType}, ".")
}

// sanitizeToken keeps a value from introducing extra subject tokens or
// wildcards.
func sanitizeToken(s string) string {
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(s)
}
