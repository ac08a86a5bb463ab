package models

// All lists the persisted models, used for sqlite auto-migration.
func All() []any {
	return []any{
		&Account{},
		&LedgerEntry{},
		&Referral{},
		&ReferralIPLog{},
		&AdminNotification{},
		&Participation{},
	}
}
