// Package telegram connects the bot to the Telegram Bot API: long-polled
// updates become chat.Events and chat.Replies become messages with inline
// keyboards.
package telegram

import (
	"context"
	"fmt"
	"log"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/elKINTARO/todo-bot/internal/chat"
)

// DefaultPollTimeout is the long-poll timeout in seconds.
const DefaultPollTimeout = 30

// Client is safe for concurrent use. All outbound calls share one limiter
// so dispatch workers and the reminder scheduler together stay under the
// API's flood limits.
type Client struct {
	api     *tgbotapi.BotAPI
	limiter *rate.Limiter

	PollTimeout int
}

// New logs in with token. sendRate is the maximum outbound calls per second.
func New(token string, sendRate float64) (*Client, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram login: %w", err)
	}
	log.Printf("🤖 authorized on telegram as @%s", api.Self.UserName)
	return newClient(api, sendRate), nil
}

func newClient(api *tgbotapi.BotAPI, sendRate float64) *Client {
	if sendRate <= 0 {
		sendRate = 25
	}
	burst := int(sendRate)
	if burst < 1 {
		burst = 1
	}
	return &Client{
		api:         api,
		limiter:     rate.NewLimiter(rate.Limit(sendRate), burst),
		PollTimeout: DefaultPollTimeout,
	}
}

// Updates starts long polling and returns the decoded events. The channel
// is closed after ctx is cancelled and polling has stopped. Button presses
// are acknowledged here so the client stops showing a spinner.
func (c *Client) Updates(ctx context.Context) <-chan chat.Event {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = c.PollTimeout
	updates := c.api.GetUpdatesChan(cfg)

	out := make(chan chat.Event)
	go func() {
		defer close(out)
		defer c.api.StopReceivingUpdates()

		for {
			var u tgbotapi.Update
			select {
			case <-ctx.Done():
				return
			case upd, ok := <-updates:
				if !ok {
					return
				}
				u = upd
			}

			if u.CallbackQuery != nil {
				if err := c.Ack(ctx, u.CallbackQuery.ID); err != nil {
					log.Printf("[WARN] ack callback: %v", err)
				}
			}

			ev, ok := ToEvent(u)
			if !ok {
				continue
			}

			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Send delivers a reply to a user's private chat.
func (c *Client) Send(ctx context.Context, userID int64, reply chat.Reply) error {
	if reply.IsZero() {
		return nil
	}
	for _, part := range Split(reply) {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		if _, err := c.api.Send(MessageConfig(userID, part)); err != nil {
			return fmt.Errorf("send to %d: %w", userID, err)
		}
	}
	return nil
}

// Notify sends a plain text message; it satisfies reminder.Notifier.
func (c *Client) Notify(ctx context.Context, userID int64, text string) error {
	return c.Send(ctx, userID, chat.Text(text))
}

func (c *Client) Ack(ctx context.Context, callbackID string) error {
	if callbackID == "" {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := c.api.Request(tgbotapi.NewCallback(callbackID, ""))
	return err
}
