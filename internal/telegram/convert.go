package telegram

import (
	"log"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/elKINTARO/todo-bot/internal/chat"
)

// ToEvent converts an update. Updates the bot doesn't handle (stickers,
// edits, group service messages, unknown buttons) report false.
func ToEvent(u tgbotapi.Update) (chat.Event, bool) {
	switch {
	case u.CallbackQuery != nil:
		q := u.CallbackQuery
		if q.From == nil {
			return chat.Event{}, false
		}
		action, id, err := chat.ParseCallbackData(q.Data)
		if err != nil {
			log.Printf("[WARN] drop button user_id=%d: %v", q.From.ID, err)
			return chat.Event{}, false
		}
		ev := chat.ButtonEvent(q.From.ID, action, id)
		ev.CallbackID = q.ID
		return ev, true

	case u.Message != nil:
		m := u.Message
		if m.From == nil || m.Text == "" {
			return chat.Event{}, false
		}
		if m.IsCommand() {
			return chat.CommandEvent(m.From.ID, m.Command(), m.CommandArguments()), true
		}
		return chat.TextEvent(m.From.ID, m.Text), true
	}
	return chat.Event{}, false
}

// MaxMessageRunes is Telegram's limit on message text.
const MaxMessageRunes = 4096

// Split cuts a reply whose text is too long for one message into several,
// breaking at newlines where possible. The buttons go with the last part.
func Split(reply chat.Reply) []chat.Reply {
	runes := []rune(reply.Text)
	if len(runes) <= MaxMessageRunes {
		return []chat.Reply{reply}
	}

	var parts []chat.Reply
	for len(runes) > MaxMessageRunes {
		cut := MaxMessageRunes
		for i := MaxMessageRunes - 1; i > MaxMessageRunes/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		parts = append(parts, chat.Text(string(runes[:cut])))
		runes = runes[cut:]
	}
	return append(parts, chat.Reply{Text: string(runes), Buttons: reply.Buttons})
}

// MessageConfig renders a reply, with its buttons as an inline keyboard.
func MessageConfig(userID int64, reply chat.Reply) tgbotapi.MessageConfig {
	msg := tgbotapi.NewMessage(userID, reply.Text)
	if kb, ok := Keyboard(reply.Buttons); ok {
		msg.ReplyMarkup = kb
	}
	return msg
}

func Keyboard(rows [][]chat.Button) (tgbotapi.InlineKeyboardMarkup, bool) {
	var kbRows [][]tgbotapi.InlineKeyboardButton
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Data()))
		}
		kbRows = append(kbRows, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	if len(kbRows) == 0 {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}
	return tgbotapi.NewInlineKeyboardMarkup(kbRows...), true
}
