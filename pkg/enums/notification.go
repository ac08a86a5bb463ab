package enums

import "fmt"

// NotificationType categorises operator-facing alerts.
type NotificationType string

const (
	NotificationTypeFailedAuthBurst      NotificationType = "failed_auth_burst"
	NotificationTypeSuspiciousLogin      NotificationType = "suspicious_login"
	NotificationTypeIPBlocked            NotificationType = "ip_blocked"
	NotificationTypeSuspiciousRate       NotificationType = "suspicious_rate"
	NotificationTypeAutomatedClient      NotificationType = "automated_client"
	NotificationTypeLargeAdminAdjustment NotificationType = "large_admin_adjustment"
	NotificationTypeReversalShortfall    NotificationType = "reversal_shortfall"
	NotificationTypeLedgerMismatch       NotificationType = "ledger_mismatch"
)

var validNotificationTypes = []NotificationType{
	NotificationTypeFailedAuthBurst,
	NotificationTypeSuspiciousLogin,
	NotificationTypeIPBlocked,
	NotificationTypeSuspiciousRate,
	NotificationTypeAutomatedClient,
	NotificationTypeLargeAdminAdjustment,
	NotificationTypeReversalShortfall,
	NotificationTypeLedgerMismatch,
}

// IsValid checks whether the given type matches the canonical enum.
func (n NotificationType) IsValid() bool {
	for _, candidate := range validNotificationTypes {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationType converts raw strings into NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	for _, candidate := range validNotificationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification type %q", value)
}

// Severity orders alerts for triage.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

func (s Severity) IsValid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	}
	return false
}
