package relay

import "time"

type Config struct {
	// MaxSessions caps the number of live sessions. <= 0 means unlimited.
	MaxSessions int

	// MaxParticipantsPerSession caps session membership. <= 0 means unlimited.
	MaxParticipantsPerSession int

	// MaxQueuedMessagesPerParticipant bounds each participant's pending-message
	// queue. When the bound is hit the oldest message is dropped, so a stalled
	// stream never grows server memory without bound.
	MaxQueuedMessagesPerParticipant int

	// MaxMessagesPerSecondPerParticipant caps how fast one participant may
	// send through the relay. <= 0 disables the limit.
	MaxMessagesPerSecondPerParticipant int

	// KeepaliveInterval is how often an idle delivery stream writes a
	// transport-level heartbeat.
	KeepaliveInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxQueuedMessagesPerParticipant: 256,
		KeepaliveInterval:               15 * time.Second,
	}
}

// WithDefaults returns c with any zero/invalid fields replaced with sensible
// defaults.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.MaxQueuedMessagesPerParticipant <= 0 {
		c.MaxQueuedMessagesPerParticipant = d.MaxQueuedMessagesPerParticipant
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = d.KeepaliveInterval
	}
	return c
}
