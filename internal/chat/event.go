// Package chat defines the transport-independent events the bot consumes
// and the replies it produces.
package chat

import (
	"fmt"
	"strconv"
	"strings"
)

type EventKind int

const (
	EventText EventKind = iota
	EventCommand
	EventButton
)

func (k EventKind) String() string {
	switch k {
	case EventText:
		return "text"
	case EventCommand:
		return "command"
	case EventButton:
		return "button"
	default:
		return "unknown"
	}
}

// Action identifies an inline button.
type Action string

const (
	ActionNewTask        Action = "new"
	ActionDone           Action = "done"
	ActionDelete         Action = "del"
	ActionEdit           Action = "edit"
	ActionEditText       Action = "edit_text"
	ActionEditDeadline   Action = "edit_deadline"
	ActionRemoveDeadline Action = "rm_deadline"
	ActionSkipDeadline   Action = "skip"
	ActionCancel         Action = "cancel"
)

// takesID reports whether the action targets a specific task.
func (a Action) takesID() bool {
	switch a {
	case ActionDone, ActionDelete, ActionEdit:
		return true
	}
	return false
}

func (a Action) valid() bool {
	switch a {
	case ActionNewTask, ActionDone, ActionDelete, ActionEdit, ActionEditText,
		ActionEditDeadline, ActionRemoveDeadline, ActionSkipDeadline, ActionCancel:
		return true
	}
	return false
}

// Event is one inbound user interaction. Exactly one group of fields is
// meaningful, selected by Kind:
//   - EventText: Text
//   - EventCommand: Command (without the slash) and Args
//   - EventButton: Action and, for task buttons, TaskID
type Event struct {
	UserID int64
	Kind   EventKind

	Text string

	Command string
	Args    string

	Action Action
	TaskID int64

	// CallbackID is the transport's handle for acknowledging a button press.
	CallbackID string
}

func TextEvent(userID int64, text string) Event {
	return Event{UserID: userID, Kind: EventText, Text: text}
}

func CommandEvent(userID int64, command, args string) Event {
	return Event{UserID: userID, Kind: EventCommand, Command: strings.ToLower(command), Args: strings.TrimSpace(args)}
}

func ButtonEvent(userID int64, action Action, taskID int64) Event {
	return Event{UserID: userID, Kind: EventButton, Action: action, TaskID: taskID}
}

// CallbackData encodes a button as "action" or "action:id".
func CallbackData(action Action, taskID int64) string {
	if action.takesID() {
		return string(action) + ":" + strconv.FormatInt(taskID, 10)
	}
	return string(action)
}

// ParseCallbackData is the inverse of CallbackData.
func ParseCallbackData(data string) (Action, int64, error) {
	name, idPart, hasID := strings.Cut(data, ":")
	action := Action(name)
	if !action.valid() {
		return "", 0, fmt.Errorf("unknown button action %q", name)
	}
	if action.takesID() != hasID {
		return "", 0, fmt.Errorf("malformed button payload %q", data)
	}
	if !hasID {
		return action, 0, nil
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		return "", 0, fmt.Errorf("malformed task id in button payload %q", data)
	}
	return action, id, nil
}
