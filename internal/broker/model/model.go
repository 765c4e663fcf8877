// Package model holds the alarm broker's core data types. These are
// plain data carriers shared by the store, trigger, alarm, escalation
// and notify packages — none of them own a database session.
package model

import (
	"time"

	"github.com/google/uuid"
)

// AlarmStatus is the lifecycle state of an Alarm.
type AlarmStatus string

const (
	StatusTriggered    AlarmStatus = "triggered"
	StatusAcknowledged AlarmStatus = "acknowledged"
	StatusResolved     AlarmStatus = "resolved"
	StatusCancelled    AlarmStatus = "cancelled"
)

// Channel identifies an outbound notification channel.
type Channel string

const (
	ChannelTicket    Channel = "ticket"
	ChannelSMS       Channel = "sms"
	ChannelGroupChat Channel = "group-chat"
	ChannelWebhook   Channel = "webhook"
)

// NotificationResult is the outcome tag on an AlarmNotification audit row.
type NotificationResult string

const (
	ResultOK      NotificationResult = "ok"
	ResultError   NotificationResult = "error"
	ResultTimeout NotificationResult = "timeout"
	ResultUnknown NotificationResult = "unknown"
)

// Severity is a closed P0-P3 enum; P0 is the silent-alarm default.
type Severity string

const (
	SeverityP0 Severity = "P0"
	SeverityP1 Severity = "P1"
	SeverityP2 Severity = "P2"
	SeverityP3 Severity = "P3"
)

type Site struct {
	ID   string
	Name string
}

type Room struct {
	ID     string
	SiteID string
	Label  string
	Floor  string
	Notes  string
}

type Person struct {
	ID          string
	DisplayName string
	Role        string
	PhoneMobile string
	PhoneExt    string
	Active      bool
}

type Device struct {
	ID          string
	Vendor      string
	ModelFamily string
	MAC         string
	AccountExt  string
	DeviceToken string
	PersonID    string
	RoomID      string
	LastSeenAt  *time.Time
}

type EscalationTarget struct {
	ID      string
	Label   string
	Channel Channel
	Address string
	Enabled bool
}

type EscalationPolicy struct {
	ID   string
	Name string
}

type EscalationStep struct {
	PolicyID     string
	StepNo       int
	AfterSeconds int
	TargetID     string
}

// Alarm is the central entity: one triggered event and its lifecycle.
type Alarm struct {
	ID        uuid.UUID
	Status    AlarmStatus
	Source    string
	Event     string
	CreatedAt time.Time

	PersonID string
	RoomID   string
	SiteID   string
	DeviceID string

	Severity Severity
	Silent   bool

	ExternalTicketID *int

	AckToken string

	AckedAt  *time.Time
	AckedBy  string
	ResolvedAt *time.Time
	ResolvedBy string
	CancelledAt *time.Time
	CancelledBy string

	Meta map[string]any

	DeletedAt *time.Time
}

// AlarmNotification is an audit row for one notification dispatch attempt.
type AlarmNotification struct {
	ID        uuid.UUID
	AlarmID   uuid.UUID
	CreatedAt time.Time
	Channel   Channel
	TargetID  string
	Payload   map[string]any
	Result    NotificationResult
	Error     string
}

// AlarmNote is a free-text timeline entry attached to an alarm.
type AlarmNote struct {
	ID        uuid.UUID
	AlarmID   uuid.UUID
	CreatedAt time.Time
	CreatedBy string
	Note      string
	NoteType  string // manual, system, escalation
}

// transitions enumerates the allowed AlarmStatus graph (spec.md §4.2).
var transitions = map[AlarmStatus]map[AlarmStatus]bool{
	StatusTriggered: {
		StatusAcknowledged: true,
		StatusResolved:     true,
		StatusCancelled:    true,
	},
	StatusAcknowledged: {
		StatusResolved:  true,
		StatusCancelled: true,
	},
	StatusResolved:  {},
	StatusCancelled: {},
}

// CanTransition reports whether moving from->to is a legal state
// machine edge. Same-status is never a "transition" (callers treat it
// as a no-op); it intentionally returns false here.
func CanTransition(from, to AlarmStatus) bool {
	return transitions[from][to]
}

// Terminal reports whether a status has no outgoing edges.
func Terminal(s AlarmStatus) bool {
	return s == StatusResolved || s == StatusCancelled
}
