package notify

// Notifier is the minimal operator notification surface. It is intentionally
// small so components can depend on it without importing the Telegram
// implementation.
type Notifier interface {
	Send(text string, silent bool) error
}

// Nop discards every message; used when Telegram is disabled and in tests.
type Nop struct{}

func (Nop) Send(string, bool) error { return nil }
