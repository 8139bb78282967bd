package telegram

import (
	"regexp"
	"strings"
	"unicode/utf16"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func isGroupChat(chat *tgbotapi.Chat) bool {
	if chat == nil {
		return false
	}
	t := strings.ToLower(strings.TrimSpace(chat.Type))
	return t == "group" || t == "supergroup"
}

// groupTriggered decides whether a group message is meant for the bot.
// Private chats always pass. In mention mode a group message passes when it
// is a command, replies to the bot, or mentions the bot.
func groupTriggered(msg *tgbotapi.Message, mode string, botUser string, botID int64) (string, bool) {
	if msg == nil {
		return "", false
	}
	if !isGroupChat(msg.Chat) || mode != GroupTriggerMention {
		return "all", true
	}
	if msg.IsCommand() {
		return "command", true
	}
	if msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil && msg.ReplyToMessage.From.ID == botID {
		return "reply", true
	}
	return groupBodyMentionReason(msg, botUser, botID)
}

func groupBodyMentionReason(msg *tgbotapi.Message, botUser string, botID int64) (string, bool) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return "", false
	}

	// text_mention carries the user id; mention carries "@username".
	for _, e := range msg.Entities {
		switch strings.ToLower(strings.TrimSpace(e.Type)) {
		case "text_mention":
			if e.User != nil && e.User.ID == botID {
				return "text_mention", true
			}
		case "mention":
			if botUser != "" {
				mention := sliceByUTF16(msg.Text, e.Offset, e.Length)
				if strings.EqualFold(mention, "@"+botUser) {
					return "mention_entity", true
				}
			}
		}
	}

	// Some clients omit entities.
	if botUser != "" && strings.Contains(strings.ToLower(text), "@"+strings.ToLower(botUser)) {
		return "at_mention", true
	}
	return "", false
}

// stripBotMention removes "@botUser" from text so the completion service
// sees the question only.
func stripBotMention(text string, botUser string) string {
	if botUser != "" {
		re := regexp.MustCompile(`(?i)@` + regexp.QuoteMeta(botUser) + `\b`)
		text = re.ReplaceAllString(text, "")
	}
	return strings.Join(strings.Fields(text), " ")
}

// sliceByUTF16 cuts s using Bot API entity offsets, which count UTF-16 code
// units.
func sliceByUTF16(s string, offset, length int) string {
	units := utf16.Encode([]rune(s))
	if offset < 0 || length <= 0 || offset >= len(units) {
		return ""
	}
	end := offset + length
	if end > len(units) {
		end = len(units)
	}
	return string(utf16.Decode(units[offset:end]))
}
