package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/plumbline/chat-client/internal/chat"
)

var errEmptyLine = errors.New("empty line")

// command is one parsed line of console input.
type command struct {
	quit        bool
	content     string
	messageType chat.MessageType
}

// parseLine turns console input into a command. Lines starting with
// /image, /file or /link send a URL of that type, /quit exits, and
// anything else is sent as text.
func parseLine(line string) (command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{}, errEmptyLine
	}
	if !strings.HasPrefix(line, "/") {
		return command{content: line, messageType: chat.MessageText}, nil
	}

	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	var mt chat.MessageType
	switch name {
	case "/quit":
		return command{quit: true}, nil
	case "/image":
		mt = chat.MessageImage
	case "/file":
		mt = chat.MessageFile
	case "/link":
		mt = chat.MessageLink
	default:
		return command{}, fmt.Errorf("unknown command %q (try /image, /file, /link or /quit)", name)
	}

	if arg == "" {
		return command{}, fmt.Errorf("%s needs a URL", name)
	}
	return command{content: arg, messageType: mt}, nil
}

// formatMessage renders an inbound message for the console.
func formatMessage(m chat.Message) string {
	sender := "unknown"
	if m.Sender != nil {
		switch {
		case m.Sender.FullName != "":
			sender = m.Sender.FullName
		case m.Sender.Username != "":
			sender = m.Sender.Username
		default:
			sender = fmt.Sprintf("user %d", m.Sender.ID)
		}
	}

	stamp := ""
	if m.CreatedAt != nil {
		stamp = m.CreatedAt.Local().Format("15:04") + " "
	}

	if m.MessageType != "" && m.MessageType != chat.MessageText {
		return fmt.Sprintf("%s%s [%s] %s", stamp, sender, m.MessageType, m.Content)
	}
	return fmt.Sprintf("%s%s: %s", stamp, sender, m.Content)
}
