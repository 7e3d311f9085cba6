// Package deadline turns free-form user input into an absolute time.
package deadline

import (
	"regexp"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/olebedev/when/rules/ru"
)

// Parser resolves deadlines in a fixed location with a preference for the
// future: a bare clock time that already passed today means tomorrow.
type Parser struct {
	loc *time.Location
	w   *when.Parser
}

func NewParser(loc *time.Location) *Parser {
	if loc == nil {
		loc = time.Local
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(ru.All...)
	w.Add(common.All...)

	return &Parser{loc: loc, w: w}
}

var dateTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"02.01.2006 15:04",
}

var dateLayouts = []string{
	"2006-01-02",
	"02.01.2006",
}

var clockOnly = regexp.MustCompile(`(?i)^(at\s+|в\s+|о\s+)?\d{1,2}([:.]\d{2})?\s*(am|pm)?$`)

// Parse returns the resolved time and false when nothing in text looks
// like a date.
func (p *Parser) Parse(text string, now time.Time) (time.Time, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, false
	}
	now = now.In(p.loc)

	for _, layout := range dateTimeLayouts {
		if t, err := time.ParseInLocation(layout, text, p.loc); err == nil {
			return t, true
		}
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, text, p.loc); err == nil {
			// a date without a time means the end of that day
			return t.Add(23*time.Hour + 59*time.Minute), true
		}
	}

	r, err := p.w.Parse(text, now)
	if err != nil || r == nil {
		return time.Time{}, false
	}

	t := r.Time
	if t.Before(now) && clockOnly.MatchString(text) {
		t = t.AddDate(0, 0, 1)
	}
	return t, true
}
