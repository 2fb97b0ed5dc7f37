package enums

import "testing"

func TestParseMilestoneStatus(t *testing.T) {
	got, err := ParseMilestoneStatus("disputed")
	if err != nil || got != MilestoneStatusDisputed {
		t.Fatalf("expected disputed, got %q err=%v", got, err)
	}
	if _, err := ParseMilestoneStatus("released"); err == nil {
		t.Fatal("expected error for unknown milestone status")
	}
}

func TestMilestoneStatusTerminal(t *testing.T) {
	for status, want := range map[MilestoneStatus]bool{
		MilestoneStatusPending:  false,
		MilestoneStatusDisputed: false,
		MilestoneStatusPaid:     true,
		MilestoneStatusRefunded: true,
	} {
		if status.IsTerminal() != want {
			t.Fatalf("status %s terminal=%v, want %v", status, status.IsTerminal(), want)
		}
	}
}

func TestPayoutStatusClassification(t *testing.T) {
	if PayoutStatusProcessing.IsTerminal() {
		t.Fatal("processing must not be terminal")
	}
	if !PayoutStatusReversed.IsTerminal() || !PayoutStatusReversed.IsFailure() {
		t.Fatal("reversed must be a terminal failure")
	}
	if PayoutStatusProcessed.IsFailure() {
		t.Fatal("processed must not be a failure")
	}
}

func TestEscrowTransactionTypeIsDebit(t *testing.T) {
	if EscrowTxnFunding.IsDebit() {
		t.Fatal("funding credits the account")
	}
	if !EscrowTxnPaymentRelease.IsDebit() || !EscrowTxnRefund.IsDebit() {
		t.Fatal("release and refund debit the account")
	}
}

func TestOutboxEventTypesAreValid(t *testing.T) {
	for _, evt := range validOutboxEventTypes {
		parsed, err := ParseOutboxEventType(string(evt))
		if err != nil || parsed != evt {
			t.Fatalf("round trip failed for %s: %v", evt, err)
		}
	}
	if OutboxEventType("order_created").IsValid() {
		t.Fatal("unexpected valid event type")
	}
}

func TestParseNormalizesGatewayInput(t *testing.T) {
	got, err := ParsePayoutStatus(" Processed ")
	if err != nil || got != PayoutStatusProcessed {
		t.Fatalf("expected processed, got %q err=%v", got, err)
	}
	if _, err := ParsePaymentStatus("settled"); err == nil || err.Error() != `invalid payment status "settled"` {
		t.Fatalf("unexpected error %v", err)
	}
}
