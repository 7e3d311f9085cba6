package tasks

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	// ErrNotFound is returned when a task doesn't exist or belongs to another user.
	ErrNotFound = errors.New("task not found")

	ErrEmptyText = errors.New("task text cannot be empty")

	// ErrTextTooLong is only returned by the REST API, see MaxAPITextLength.
	ErrTextTooLong = errors.New("task text exceeds maximum length")

	// ErrInvalidID is returned for ids that are not positive integers.
	ErrInvalidID = errors.New("invalid task id")

	ErrMalformedDeadline = errors.New("malformed deadline")
)

// MaxAPITextLength caps task text submitted over REST, in runes. It matches
// Telegram's message limit; the bot itself can't receive anything longer.
const MaxAPITextLength = 4096

// DeadlineLayout is the persisted deadline format, always in UTC.
const DeadlineLayout = "2006-01-02 15:04:05"

// NormalizeText trims the text; any non-empty text is a valid task.
func NormalizeText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyText
	}
	return text, nil
}

// NormalizeAPIText is NormalizeText plus the REST length cap.
func NormalizeAPIText(text string) (string, error) {
	text, err := NormalizeText(text)
	if err != nil {
		return "", err
	}
	if utf8.RuneCountInString(text) > MaxAPITextLength {
		return "", ErrTextTooLong
	}
	return text, nil
}

func ParseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return id, nil
}

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(DeadlineLayout)
}

// ParseTimestamp reads a persisted timestamp. Anything that isn't exactly
// DeadlineLayout is an error.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DeadlineLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrMalformedDeadline, s)
	}
	return t, nil
}
