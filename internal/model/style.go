package model

import (
	"fmt"
	"strings"
)

// SyncStyle is the allowed direction of data flow for an app on a given peer.
type SyncStyle string

const (
	// StyleSendReceive mirrors changes in both directions.
	StyleSendReceive SyncStyle = "send-receive"

	// StyleReceiveOnly pulls changes from the peer but never pushes local ones.
	StyleReceiveOnly SyncStyle = "receive-only"

	// StyleSendOnly pushes local changes but never pulls from the peer.
	StyleSendOnly SyncStyle = "send-only"

	// StylePaused excludes the app from every sync session.
	StylePaused SyncStyle = "paused"
)

// IsValid returns true if the style is recognized.
func (s SyncStyle) IsValid() bool {
	switch s {
	case StyleSendReceive, StyleReceiveOnly, StyleSendOnly, StylePaused:
		return true
	default:
		return false
	}
}

// AllStyles returns all supported sync styles.
func AllStyles() []SyncStyle {
	return []SyncStyle{StyleSendReceive, StyleReceiveOnly, StyleSendOnly, StylePaused}
}

// String returns the string representation of the style.
func (s SyncStyle) String() string {
	return string(s)
}

// CanSend reports whether local files may be pushed to the peer.
func (s SyncStyle) CanSend() bool {
	switch s {
	case StyleSendReceive, StyleSendOnly:
		return true
	case StyleReceiveOnly, StylePaused:
		return false
	default:
		return false
	}
}

// CanReceive reports whether remote files may be pulled from the peer.
func (s SyncStyle) CanReceive() bool {
	switch s {
	case StyleSendReceive, StyleReceiveOnly:
		return true
	case StyleSendOnly, StylePaused:
		return false
	default:
		return false
	}
}

// Description returns a human-readable description of the style.
func (s SyncStyle) Description() string {
	switch s {
	case StyleSendReceive:
		return "Send and receive changes"
	case StyleReceiveOnly:
		return "Only receive changes from the peer"
	case StyleSendOnly:
		return "Only send local changes to the peer"
	case StylePaused:
		return "Sync paused"
	default:
		return "Unknown style"
	}
}

// ParseStyle parses a style from user input, accepting common aliases.
func ParseStyle(s string) (SyncStyle, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))

	style := SyncStyle(normalized)
	if style.IsValid() {
		return style, nil
	}

	switch normalized {
	case "sendreceive", "send_receive", "bidirectional", "both":
		return StyleSendReceive, nil
	case "receiveonly", "receive_only", "receive", "pull":
		return StyleReceiveOnly, nil
	case "sendonly", "send_only", "send", "push":
		return StyleSendOnly, nil
	case "pause", "off":
		return StylePaused, nil
	default:
		return "", fmt.Errorf("unknown sync style %q (valid: send-receive, receive-only, send-only, paused)", s)
	}
}
