// notify/notify.go
package notify

// TextNotifier is a fire-and-forget text alert sink. Implementations must
// tolerate being called from multiple goroutines; callers ignore errors.
type TextNotifier interface {
	SendText(text string) error
}

// Nop discards all notifications. Used when no sink is configured and in tests.
type Nop struct{}

func (Nop) SendText(string) error { return nil }
