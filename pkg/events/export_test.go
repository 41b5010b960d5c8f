package events

// IsListening exposes the listener's channel set to external tests.
func (l *NotifyListener) IsListening(channel string) bool {
	return l.isListening(channel)
}
