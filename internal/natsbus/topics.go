package natsbus

import "fmt"

// TopicChatEvents carries every lifecycle event of one chat session.
func TopicChatEvents(sessionID string) string {
	return fmt.Sprintf("events.chat.%s", sessionID)
}

// TopicAllChatEvents matches the events of every session.
const TopicAllChatEvents = "events.chat.>"
