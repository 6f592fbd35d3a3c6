package chat

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	MaxMessageBytes = 4096
	MaxTextChars    = 2000
)

// ValidateMessage checks the shape of a chat line. Content screening is
// done separately by the moderation filter.
func ValidateMessage(text string) error {
	if strings.TrimSpace(text) == "" {
		return errors.New("message text is empty")
	}
	if len(text) > MaxMessageBytes {
		return fmt.Errorf("message exceeds %d byte limit", MaxMessageBytes)
	}
	if !utf8.ValidString(text) {
		return errors.New("message contains invalid UTF-8")
	}
	if utf8.RuneCountInString(text) > MaxTextChars {
		return fmt.Errorf("message exceeds %d character limit", MaxTextChars)
	}
	return nil
}
