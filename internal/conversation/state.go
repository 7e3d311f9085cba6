package conversation

import (
	"github.com/elKINTARO/todo-bot/internal/chat"
)

// Flow is the multi-step dialogue a user is in.
type Flow int

const (
	FlowNone Flow = iota
	FlowCreating
	FlowEditing
)

func (f Flow) String() string {
	switch f {
	case FlowCreating:
		return "creating"
	case FlowEditing:
		return "editing"
	default:
		return "none"
	}
}

// State is a node of the conversation state machine.
type State int

const (
	StateIdle State = iota

	// creation flow
	StateAwaitingText
	StateAwaitingDeadline

	// editing flow
	StateEditMenu
	StateEditingText
	StateEditingDeadline
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingText:
		return "awaiting_text"
	case StateAwaitingDeadline:
		return "awaiting_deadline"
	case StateEditMenu:
		return "edit_menu"
	case StateEditingText:
		return "editing_text"
	case StateEditingDeadline:
		return "editing_deadline"
	default:
		return "unknown"
	}
}

func (s State) Flow() Flow {
	switch s {
	case StateAwaitingText, StateAwaitingDeadline:
		return FlowCreating
	case StateEditMenu, StateEditingText, StateEditingDeadline:
		return FlowEditing
	default:
		return FlowNone
	}
}

// Input is an event reduced to what the state machine cares about.
type Input int

const (
	InputUnknown Input = iota
	InputText
	InputCancel
	InputSkip
	InputRemoveDeadline
	InputEditText
	InputEditDeadline
)

func (i Input) String() string {
	switch i {
	case InputText:
		return "text"
	case InputCancel:
		return "cancel"
	case InputSkip:
		return "skip"
	case InputRemoveDeadline:
		return "remove_deadline"
	case InputEditText:
		return "edit_text"
	case InputEditDeadline:
		return "edit_deadline"
	default:
		return "unknown"
	}
}

// Classify maps an inbound event to a state machine input.
func Classify(ev chat.Event) Input {
	switch ev.Kind {
	case chat.EventText:
		return InputText
	case chat.EventCommand:
		switch ev.Command {
		case "cancel":
			return InputCancel
		case "skip":
			return InputSkip
		case "nodeadline":
			return InputRemoveDeadline
		}
	case chat.EventButton:
		switch ev.Action {
		case chat.ActionCancel:
			return InputCancel
		case chat.ActionSkipDeadline:
			return InputSkip
		case chat.ActionRemoveDeadline:
			return InputRemoveDeadline
		case chat.ActionEditText:
			return InputEditText
		case chat.ActionEditDeadline:
			return InputEditDeadline
		}
	}
	return InputUnknown
}

type transition struct {
	from  State
	input Input
}

// transitions is the whole state machine. Cancel is accepted in every
// non-idle state; any pair missing from the table re-prompts the current
// state without changing it.
var transitions = map[transition]step{
	{StateAwaitingText, InputText}: (*Engine).takeDraftText,

	{StateAwaitingDeadline, InputSkip}: (*Engine).createWithoutDeadline,
	{StateAwaitingDeadline, InputText}: (*Engine).createWithDeadline,

	{StateEditMenu, InputEditText}:     (*Engine).chooseEditText,
	{StateEditMenu, InputEditDeadline}: (*Engine).chooseEditDeadline,

	{StateEditingText, InputText}: (*Engine).commitText,

	{StateEditingDeadline, InputRemoveDeadline}: (*Engine).commitRemoveDeadline,
	{StateEditingDeadline, InputText}:           (*Engine).commitDeadline,
}

func lookup(from State, in Input) (step, bool) {
	if in == InputCancel && from != StateIdle {
		return (*Engine).cancel, true
	}
	fn, ok := transitions[transition{from, in}]
	return fn, ok
}
