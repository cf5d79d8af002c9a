// --- File: internal/message/builder.go ---
// Package message builds platform-specific notification envelopes.
package message

import (
	"fmt"
	"maps"
	"time"

	"github.com/tinywideclouds/go-fanout-service/pkg/fanout"
)

// Routing contract shared with the mobile clients.
const (
	ClickActionKey   = "click_action"
	ClickActionValue = "FOODTRUCK_NOTIFICATION_CLICK"

	DefaultSound     = "default"
	AndroidChannelID = "foodtruck_notifications"
	AndroidIcon      = "ic_notification"
	AndroidColor     = "#FF6B35"
	AndroidTag       = "foodtruck_notification"
	AndroidTTL       = time.Hour

	PriorityHigh      = "high"
	APNSPriorityHigh  = "10"
	APNSPriorityKey   = "apns-priority"
	DefaultBadgeCount = 1
)

// Alert is the title/body pair shown to the user.
type Alert struct {
	Title string
	Body  string
}

// IOSEnvelope carries the generic notification plus the native aps block.
type IOSEnvelope struct {
	Notification Alert
	Data         map[string]string
	Headers      map[string]string
	Priority     string
	Sound        string
	Badge        int
	APSAlert     Alert
}

func (IOSEnvelope) Platform() fanout.Platform { return fanout.PlatformIOS }
func (IOSEnvelope) envelope()                 {}

// AndroidEnvelope carries the generic notification plus the Android block.
type AndroidEnvelope struct {
	Notification Alert
	Data         map[string]string
	Priority     string
	TTL          time.Duration
	ChannelID    string
	ClickAction  string
	Sound        string
	Icon         string
	Color        string
	Tag          string
}

func (AndroidEnvelope) Platform() fanout.Platform { return fanout.PlatformAndroid }
func (AndroidEnvelope) envelope()                 {}

// Envelope is IOSEnvelope or AndroidEnvelope. The unexported method closes the set.
type Envelope interface {
	fanout.Envelope
	envelope()
}

// Build constructs the envelope for platform. An unknown platform is a programming
// error and panics.
func Build(platform fanout.Platform, title, body string, data map[string]string) Envelope {
	alert := Alert{Title: title, Body: body}
	merged := routingData(data)

	switch platform {
	case fanout.PlatformIOS:
		return IOSEnvelope{
			Notification: alert,
			Data:         merged,
			Headers:      map[string]string{APNSPriorityKey: APNSPriorityHigh},
			Priority:     PriorityHigh,
			Sound:        DefaultSound,
			Badge:        DefaultBadgeCount,
			APSAlert:     alert,
		}
	case fanout.PlatformAndroid:
		return AndroidEnvelope{
			Notification: alert,
			Data:         merged,
			Priority:     PriorityHigh,
			TTL:          AndroidTTL,
			ChannelID:    AndroidChannelID,
			ClickAction:  ClickActionValue,
			Sound:        DefaultSound,
			Icon:         AndroidIcon,
			Color:        AndroidColor,
			Tag:          AndroidTag,
		}
	default:
		panic(fmt.Sprintf("message: unsupported platform %q", platform))
	}
}

// BuildPayload is Build for a fanout.Payload.
func BuildPayload(platform fanout.Platform, p fanout.Payload) Envelope {
	return Build(platform, p.Title, p.Body, p.Data)
}

// routingData copies data and sets the reserved routing key, which always wins.
func routingData(data map[string]string) map[string]string {
	out := make(map[string]string, len(data)+1)
	maps.Copy(out, data)
	out[ClickActionKey] = ClickActionValue
	return out
}
