package alerts

import (
	"fmt"

	"github.com/angelmondragon/credits-backend/pkg/enums"
	"github.com/google/uuid"
)

// Kind names the event observed by the alerting hook.
type Kind string

const (
	KindFailedAuthBurst      Kind = "failed_auth_burst"
	KindSuspiciousLogin      Kind = "suspicious_login"
	KindIPAutoBlock          Kind = "ip_auto_block"
	KindSuspiciousRate       Kind = "suspicious_rate"
	KindAutomatedClient      Kind = "automated_client"
	KindLargeAdminAdjustment Kind = "large_admin_adjustment"
	KindReversalShortfall    Kind = "reversal_shortfall"
	KindLedgerMismatch       Kind = "ledger_mismatch"
)

// Event carries whatever the reporting component knows; unused fields stay zero.
type Event struct {
	Kind      Kind
	AccountID *uuid.UUID
	Subject   string
	IP        string
	Amount    int64
	Shortfall int64
	Count     int64
	Admin     bool
	Detail    string
}

// Policy holds the thresholds used by Decide.
type Policy struct {
	LargeAdjustmentThreshold int64
}

// Decision is the outcome of Decide. Title and Message are only set when Raise is true.
type Decision struct {
	Raise    bool
	Severity enums.Severity
	Category enums.NotificationType
	Title    string
	Message  string
}

const criticalAdjustmentMultiplier = 10

// Decide reports whether an admin notification should be created for the event.
func Decide(policy Policy, ev Event) Decision {
	switch ev.Kind {
	case KindFailedAuthBurst:
		severity := enums.SeverityWarning
		title := "Repeated failed logins"
		if ev.Admin {
			severity = enums.SeverityCritical
			title = "Repeated failed admin logins"
		}
		return raise(severity, enums.NotificationTypeFailedAuthBurst, title,
			fmt.Sprintf("%d failed attempts for %s from %s; lockout applied", ev.Count, orUnknown(ev.Subject), orUnknown(ev.IP)))

	case KindSuspiciousLogin:
		return raise(enums.SeverityWarning, enums.NotificationTypeSuspiciousLogin, "Login after repeated failures",
			fmt.Sprintf("%s logged in from %s after %d failed attempts", orUnknown(ev.Subject), orUnknown(ev.IP), ev.Count))

	case KindIPAutoBlock:
		return raise(enums.SeverityCritical, enums.NotificationTypeIPBlocked, "IP address blocked",
			fmt.Sprintf("%s was blocked after %d referral attempts in 24h", orUnknown(ev.IP), ev.Count))

	case KindSuspiciousRate:
		return raise(enums.SeverityWarning, enums.NotificationTypeSuspiciousRate, "Suspicious referral rate",
			fmt.Sprintf("%s created %d referrals within the last hour", orUnknown(ev.Subject), ev.Count))

	case KindAutomatedClient:
		agent := ev.Detail
		if agent == "" {
			agent = "empty user agent"
		}
		return raise(enums.SeverityInfo, enums.NotificationTypeAutomatedClient, "Automated client on referral",
			fmt.Sprintf("referral from %s used %q", orUnknown(ev.IP), agent))

	case KindLargeAdminAdjustment:
		amount := abs(ev.Amount)
		if policy.LargeAdjustmentThreshold <= 0 || amount < policy.LargeAdjustmentThreshold {
			return Decision{}
		}
		severity := enums.SeverityWarning
		if amount >= policy.LargeAdjustmentThreshold*criticalAdjustmentMultiplier {
			severity = enums.SeverityCritical
		}
		return raise(severity, enums.NotificationTypeLargeAdminAdjustment, "Large balance adjustment",
			fmt.Sprintf("admin %s adjusted a balance by %d credits: %s", orUnknown(ev.Subject), ev.Amount, ev.Detail))

	case KindReversalShortfall:
		if ev.Shortfall <= 0 {
			return Decision{}
		}
		return raise(enums.SeverityWarning, enums.NotificationTypeReversalShortfall, "Referral reversal shortfall",
			fmt.Sprintf("reversal of %d credits left %d unrecovered", ev.Amount, ev.Shortfall))

	case KindLedgerMismatch:
		return raise(enums.SeverityCritical, enums.NotificationTypeLedgerMismatch, "Ledger mismatch",
			fmt.Sprintf("stored balance differs from entry sum by %d: %s", ev.Amount, ev.Detail))
	}
	return Decision{}
}

func raise(severity enums.Severity, category enums.NotificationType, title, message string) Decision {
	return Decision{Raise: true, Severity: severity, Category: category, Title: title, Message: message}
}

func orUnknown(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
