package models

// All lists every model backing the escrow schema, in dependency order.
func All() []any {
	return []any{
		&Contract{},
		&Milestone{},
		&VirtualAccount{},
		&GatewayContact{},
		&FundAccount{},
		&Payment{},
		&Payout{},
		&PayoutReservation{},
		&EscrowTransaction{},
		&WalletTransaction{},
		&WebhookEvent{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}
