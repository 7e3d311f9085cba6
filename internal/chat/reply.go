package chat

// Button is an inline button attached to a reply.
type Button struct {
	Label  string
	Action Action
	TaskID int64
}

func (b Button) Data() string {
	return CallbackData(b.Action, b.TaskID)
}

// Reply is one outbound message. Buttons are laid out one row per slice.
type Reply struct {
	Text    string
	Buttons [][]Button
}

func Text(text string) Reply {
	return Reply{Text: text}
}

func (r Reply) IsZero() bool {
	return r.Text == "" && len(r.Buttons) == 0
}

// WithRow appends a row of buttons.
func (r Reply) WithRow(buttons ...Button) Reply {
	if len(buttons) == 0 {
		return r
	}
	r.Buttons = append(append([][]Button(nil), r.Buttons...), buttons)
	return r
}
