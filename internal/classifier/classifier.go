// Package classifier turns raw game log lines into tagged chat records.
package classifier

import (
	"regexp"
	"strings"

	"personarelay/internal/models"
)

var (
	openTagPattern = regexp.MustCompile(`<([A-Za-z][A-Za-z0-9]*)>`)
	menuPattern    = regexp.MustCompile(`\[Talk\] (?:What would you like to do\?|Please choose section:|<c>\[.*?\]</c>|Crafting Menu|Back|Cancel)\s*$`)
	fullPattern    = regexp.MustCompile(`^\[([^\]]+)\] ([^:]+): \[Talk\](?: (.*))?$`)
	shortPattern   = regexp.MustCompile(`^([^:]+): \[Talk\](?: (.*))?$`)
)

// matcher inspects a trimmed line and reports whether it produced a result.
type matcher func(line, account string) (models.ClassifiedMessage, bool)

// matchers run in order; the first that accepts a line wins.
var matchers = []matcher{
	matchMarkup,
	matchMenu,
	matchFullSpeech,
	matchShortSpeech,
}

// Classify parses one log line in the context of the caller's account.
// It never fails: lines that fit no known shape come back as Unparsed.
func Classify(line, account string) models.ClassifiedMessage {
	raw := strings.TrimRight(line, "\r\n")
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return models.ClassifiedMessage{Raw: raw, Kind: models.KindNoise}
	}
	for _, match := range matchers {
		if msg, ok := match(trimmed, account); ok {
			msg.Raw = raw
			return msg
		}
	}
	return models.ClassifiedMessage{
		Raw:   raw,
		Text:  trimmed,
		IsOwn: hasAccountBracket(raw, account),
		Kind:  models.KindUnparsed,
	}
}

// FormatDisplay renders a message the way front ends expect to show it.
func FormatDisplay(msg models.ClassifiedMessage) string {
	if msg.Speaker == "" {
		return strings.TrimSpace(msg.Raw)
	}
	return "<strong>" + msg.Speaker + ":</strong> " + msg.Text
}

func matchMarkup(line, _ string) (models.ClassifiedMessage, bool) {
	if !HasMarkupPair(line) {
		return models.ClassifiedMessage{}, false
	}
	return noise(), true
}

func matchMenu(line, account string) (models.ClassifiedMessage, bool) {
	if !hasAccountBracket(line, account) || !menuPattern.MatchString(line) {
		return models.ClassifiedMessage{}, false
	}
	return noise(), true
}

func matchFullSpeech(line, account string) (models.ClassifiedMessage, bool) {
	m := fullPattern.FindStringSubmatch(line)
	if m == nil {
		return models.ClassifiedMessage{}, false
	}
	own := account != "" && m[1] == account
	return models.ClassifiedMessage{
		Account: m[1],
		Speaker: strings.TrimSpace(m[2]),
		Text:    strings.TrimSpace(m[3]),
		IsOwn:   own,
		Kind:    speechKind(own),
	}, true
}

func matchShortSpeech(line, account string) (models.ClassifiedMessage, bool) {
	m := shortPattern.FindStringSubmatch(line)
	if m == nil {
		return models.ClassifiedMessage{}, false
	}
	own := hasAccountBracket(line, account)
	return models.ClassifiedMessage{
		Speaker: strings.TrimSpace(m[1]),
		Text:    strings.TrimSpace(m[2]),
		IsOwn:   own,
		Kind:    speechKind(own),
	}, true
}

// HasMarkupPair reports whether the line carries an opening tag together
// with its matching closing tag, e.g. "<c>...</c>".
func HasMarkupPair(line string) bool {
	for _, m := range openTagPattern.FindAllStringSubmatch(line, -1) {
		if strings.Contains(line, "</"+m[1]+">") {
			return true
		}
	}
	return false
}

func hasAccountBracket(line, account string) bool {
	return account != "" && strings.Contains(line, "["+account+"]")
}

func speechKind(own bool) models.Kind {
	if own {
		return models.KindOwnSpeech
	}
	return models.KindOtherSpeech
}

func noise() models.ClassifiedMessage {
	return models.ClassifiedMessage{IsSystem: true, Kind: models.KindNoise}
}
