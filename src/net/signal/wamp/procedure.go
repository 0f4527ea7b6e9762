package wamp

import (
	"strings"
)

var procedureReplacer = strings.NewReplacer(
	".", "_",
	":", "_",
	"/", "_",
	" ", "_",
	"#", "_",
)

// procedureID turns an arbitrary identifier into a single WAMP URI component.
func procedureID(id string) string {
	return procedureReplacer.Replace(id)
}

// Procedure returns the WAMP procedure of a method on a topic.
func Procedure(prefix, topic, method string) string {
	return strings.Join([]string{prefix, procedureID(topic), procedureID(method)}, ".")
}
