package planner

import "strings"

// TaskClass is a coarse bucket used only to rank few-shot exemplars by
// relevance; it is not part of the kernel's data model.
type TaskClass string

const (
	TaskFile      TaskClass = "file"
	TaskEmail     TaskClass = "email"
	TaskCalendar  TaskClass = "calendar"
	TaskSocial    TaskClass = "social"
	TaskMusic     TaskClass = "music"
	TaskDocument  TaskClass = "document"
	TaskGeneral   TaskClass = "general"
)

var classKeywords = map[TaskClass][]string{
	TaskFile:     {"file", "folder", "duplicate", "disk"},
	TaskEmail:    {"email", "inbox", "mail"},
	TaskCalendar: {"calendar", "schedule", "meeting", "event"},
	TaskSocial:   {"post", "tweet", "share", "social"},
	TaskMusic:    {"music", "song", "playlist", "play"},
	TaskDocument: {"report", "summary", "slideshow", "presentation", "document", "keynote"},
}

// Classify assigns a coarse task class to a user request using keyword
// buckets. This is a cheap estimator, not a model call: its only job is to
// rank exemplar relevance for the budget-capped selection in exemplars.go.
func Classify(userRequest string) TaskClass {
	lower := strings.ToLower(userRequest)
	for class, words := range classKeywords {
		for _, w := range words {
			if strings.Contains(lower, w) {
				return class
			}
		}
	}
	return TaskGeneral
}
