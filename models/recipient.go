package models

import (
	"fmt"
	"strings"

	"github.com/mmdatafocus/lease_backend/config"
)

type NotificationChannel string

const (
	ChannelEmail    NotificationChannel = "email"
	ChannelWhatsApp NotificationChannel = "whatsapp"
	ChannelSMS      NotificationChannel = "sms"
	ChannelPush     NotificationChannel = "push"
)

func (c NotificationChannel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelWhatsApp, ChannelSMS, ChannelPush:
		return true
	}
	return false
}

// Recipient is one addressable endpoint for a notification.
type Recipient struct {
	Channel NotificationChannel `json:"channel"`
	Address string              `json:"address"`
	Name    string              `json:"name,omitempty"`
	Role    ActorRole           `json:"role,omitempty"`
}

// Key identifies a recipient across delivery attempts.
func (r Recipient) Key() string {
	return fmt.Sprintf("%s:%s", r.Channel, strings.ToLower(r.Address))
}

// recipientsFor expands a party into its reachable channels.
func recipientsFor(p Party, role ActorRole) []Recipient {
	var out []Recipient
	if p.Email != "" {
		out = append(out, Recipient{Channel: ChannelEmail, Address: p.Email, Name: p.Name, Role: role})
	}
	if p.Phone != "" {
		out = append(out, Recipient{Channel: ChannelWhatsApp, Address: p.Phone, Name: p.Name, Role: role})
	}
	return out
}

// staffRecipients is where back-office notices go. Empty when NOTIFY_ACCOUNTING_EMAIL is unset.
func staffRecipients() []Recipient {
	addr := config.AccountingInbox()
	if addr == "" {
		return nil
	}
	return []Recipient{{Channel: ChannelEmail, Address: addr, Name: "Accounting", Role: ActorRoleAccounting}}
}
