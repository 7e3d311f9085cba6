package tasks

// Event names recorded to analytics when tasks change.
const (
	EventTaskCreated   = "task_created"
	EventTaskCompleted = "task_completed"
	EventTaskDeleted   = "task_deleted"
	EventTaskEdited    = "task_edited"
	EventReminderSent  = "reminder_sent"
)
