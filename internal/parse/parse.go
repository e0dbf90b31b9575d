// Package parse extracts ticket references and command arguments from chat
// text. All extraction is regex-based; ticket IDs are the uppercase
// PREFIX-NUMBER form used by the issue tracker.
package parse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/missionbot-io/missionbot/pkg/protocol"
)

var (
	ticketIDRe     = regexp.MustCompile(`[A-Z]+-\d+`)
	ticketIDOnlyRe = regexp.MustCompile(`^[A-Z]+-\d+$`)
	mentionRe      = regexp.MustCompile(`@(\w+)`)
	bracketRe      = regexp.MustCompile(`^\[.*?\]\s*`)
)

// Link is a ticket reference found in free text.
type Link struct {
	TicketID         string
	URL              string
	Title            string // text following the URL, if any
	AssigneeUsername string // last @mention in the message, if any
}

// Parser recognizes browse links for one tracker host.
type Parser struct {
	host   string
	linkRe *regexp.Regexp
}

// NewParser builds a parser for tracker URLs of the form
// https://<host>/browse/<TICKET>. Scheme and host match case-insensitively.
func NewParser(host string) *Parser {
	return &Parser{
		host:   host,
		linkRe: regexp.MustCompile(`(?i:https?://` + regexp.QuoteMeta(host) + `/browse/)([A-Z]+-\d+)`),
	}
}

// BrowseURL returns the tracker URL for a ticket ID.
func (p *Parser) BrowseURL(ticketID string) string {
	return fmt.Sprintf("https://%s/browse/%s", p.host, ticketID)
}

// ParseLink extracts the first tracker link from text, along with a best-effort
// title (text after the URL, leading [tags] stripped, cut at the first
// @mention) and the assignee (the last @mention anywhere in the message).
// Returns nil when the text contains no tracker link.
func (p *Parser) ParseLink(text string) *Link {
	m := p.linkRe.FindStringSubmatchIndex(text)
	if m == nil {
		return nil
	}
	url := text[m[0]:m[1]]
	ticketID := text[m[2]:m[3]]

	after := strings.TrimSpace(text[m[1]:])
	var title string
	if loc := mentionRe.FindStringIndex(after); loc != nil {
		title = strings.TrimSpace(after[:loc[0]])
	} else if i := strings.IndexByte(after, '\n'); i >= 0 {
		title = strings.TrimSpace(after[:i])
	} else {
		title = after
	}
	title = strings.TrimSpace(bracketRe.ReplaceAllString(title, ""))

	var assignee string
	if mentions := mentionRe.FindAllStringSubmatch(text, -1); len(mentions) > 0 {
		assignee = mentions[len(mentions)-1][1]
	}

	return &Link{
		TicketID:         ticketID,
		URL:              url,
		Title:            title,
		AssigneeUsername: assignee,
	}
}

// ExtractTicketID returns the first PREFIX-NUMBER token in text, or "".
// Lowercase prefixes are not recognized.
func ExtractTicketID(text string) string {
	return ticketIDRe.FindString(text)
}

// IsTicketID reports whether s is exactly a PREFIX-NUMBER token.
func IsTicketID(s string) bool {
	return ticketIDOnlyRe.MatchString(s)
}

// Mention extracts the username from an @handle token, or "".
func Mention(s string) string {
	m := mentionRe.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return m[1]
}

// Progress parses a 0-100 percentage argument.
func Progress(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 || n > 100 {
		return 0, false
	}
	return n, true
}

// Status resolves a status argument: a numeric index (0-3), a canonical
// status value, or a display label.
func Status(input string) (protocol.ReportStatus, bool) {
	input = strings.TrimSpace(input)
	if n, err := strconv.Atoi(input); err == nil {
		return protocol.StatusByIndex(n)
	}
	for _, s := range protocol.ReportStatuses {
		if input == string(s) || input == s.Label() {
			return s, true
		}
	}
	return "", false
}
