package bus

import "strings"

// GlobalScope is the scope every component listens to.
const GlobalScope = "global"

// AliveTopic carries liveness announcements from every component.
const AliveTopic = GlobalScope + "/alive"

// GlobalTopic returns "global/<action>".
func GlobalTopic(action string) string {
	return GlobalScope + "/" + action
}

// ComponentTopic returns "<name>/<action>".
func ComponentTopic(name, action string) string {
	return name + "/" + action
}

// Scope returns the first level of topic.
func Scope(topic string) string {
	scope, _, _ := strings.Cut(topic, "/")
	return scope
}

// inScope reports whether a message on topic is addressed to component.
// Component names compare case-insensitively.
func inScope(component, topic string) bool {
	scope := Scope(topic)
	return scope == GlobalScope || strings.EqualFold(scope, component)
}
