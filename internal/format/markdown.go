package format

import (
	"regexp"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// ParseResult contains plain text and message entities
type ParseResult struct {
	Text     string
	Entities []tgbotapi.MessageEntity
}

// UTF16Len calculates the UTF-16 length of a string
// This is required because Telegram uses UTF-16 code units for entity offsets/lengths
func UTF16Len(s string) int {
	length := 0
	for _, b := range []byte(s) {
		if (b & 0xc0) != 0x80 {
			if b >= 0xf0 {
				length += 2 // Non-BMP characters (surrogate pairs)
			} else {
				length += 1
			}
		}
	}
	return length
}

var (
	boldRe = regexp.MustCompile(`\*\*(.+?)\*\*`)
	codeRe = regexp.MustCompile("`([^`]+?)`")
)

// ParseMarkdown converts the subset of Markdown the notification texts use
// (**bold** and `code`) into Telegram message entities.
func ParseMarkdown(text string) ParseResult {
	var entities []tgbotapi.MessageEntity
	result := text

	strip := func(re *regexp.Regexp, entityType string) {
		for {
			loc := re.FindStringSubmatchIndex(result)
			if loc == nil {
				break
			}
			fullStart, fullEnd := loc[0], loc[1]
			innerText := result[loc[2]:loc[3]]

			entities = append(entities, tgbotapi.MessageEntity{
				Type:   entityType,
				Offset: UTF16Len(result[:fullStart]),
				Length: UTF16Len(innerText),
			})
			result = result[:fullStart] + innerText + result[fullEnd:]
		}
	}

	strip(boldRe, "bold")
	strip(codeRe, "code")

	// Telegram requires entities sorted by offset
	for i := 0; i < len(entities); i++ {
		for j := i + 1; j < len(entities); j++ {
			if entities[j].Offset < entities[i].Offset {
				entities[i], entities[j] = entities[j], entities[i]
			}
		}
	}

	return ParseResult{
		Text:     strings.TrimRight(result, " \n"),
		Entities: entities,
	}
}
