package procurement_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/fuel-procurement/procurement"
)

var bank = procurement.BankDetails{BankName: "Bank Mandiri", Reference: "TRF-1"}

func TestSubmitPayment_RequiresAssessment(t *testing.T) {
	eng, _ := newMemoryEngine(t)
	plan, _ := approvedPlan(t, eng, line("pertalite", "tank-1", "10000.00", "100.00"))

	_, err := eng.SubmitPayment(context.Background(), plan.ID, v("100.00"), bank, "finance")
	assert.ErrorIs(t, err, procurement.ErrNotAssessed)
}

func TestSubmitPayment_RejectsNonPositiveAmount(t *testing.T) {
	eng, _ := newMemoryEngine(t)
	plan, _ := assessedPlan(t, eng, line("pertalite", "tank-1", "10000.00", "100.00"))

	for _, amount := range []string{"0", "-1.00"} {
		_, err := eng.SubmitPayment(context.Background(), plan.ID, v(amount), bank, "finance")
		assert.ErrorIs(t, err, procurement.ErrInvalidAmount)
	}
}

func TestPaymentSignoff_Sequence(t *testing.T) {
	// GIVEN: A submitted payment
	// WHEN: Signing it out of order, twice, or by the same person
	// THEN: Each attempt is rejected with its own code

	eng, _ := newMemoryEngine(t)
	ctx := context.Background()
	plan, _ := assessedPlan(t, eng, line("pertalite", "tank-1", "10000.00", "100.00"))
	p, err := eng.SubmitPayment(ctx, plan.ID, v("500000.00"), bank, "finance")
	require.NoError(t, err)

	_, err = eng.ConfirmSecondParty(ctx, p.ID, "director")
	assert.ErrorIs(t, err, procurement.ErrFirstPartyPending)

	_, err = eng.ConfirmFirstParty(ctx, p.ID, "finance")
	require.NoError(t, err)

	_, err = eng.ConfirmFirstParty(ctx, p.ID, "finance-2")
	assert.ErrorIs(t, err, procurement.ErrAlreadySigned)

	_, err = eng.ConfirmSecondParty(ctx, p.ID, "finance")
	assert.ErrorIs(t, err, procurement.ErrSameSigner)

	signed, err := eng.ConfirmSecondParty(ctx, p.ID, "director")
	require.NoError(t, err)
	assert.True(t, signed.FullySigned())
	assert.GreaterOrEqual(t, signed.SecondParty.At, signed.FirstParty.At)

	_, err = eng.ConfirmSecondParty(ctx, p.ID, "director-2")
	assert.ErrorIs(t, err, procurement.ErrAlreadySigned)
}

func TestConfirmFirstParty_LosesRace(t *testing.T) {
	// GIVEN: Two finance officers signing the same payment's first slot
	// WHEN: The rival sign-off lands between our read and our write
	// THEN: Ours fails with ErrStaleState, a retry reports ErrAlreadySigned,
	//       and the rival's signature is the one kept

	ledger := newSagaLedger()
	eng := newTestEngine(t, ledger)
	rival := newTestEngine(t, ledger.inner)
	ctx := context.Background()
	plan, _ := assessedPlan(t, eng, line("pertalite", "tank-1", "10000.00", "100.00"))
	p, err := eng.SubmitPayment(ctx, plan.ID, v("500000.00"), bank, "finance")
	require.NoError(t, err)

	ledger.beforeSubmit = func() {
		_, err := rival.ConfirmFirstParty(ctx, p.ID, "finance-2")
		require.NoError(t, err)
	}

	_, err = eng.ConfirmFirstParty(ctx, p.ID, "finance-1")
	assert.ErrorIs(t, err, procurement.ErrStaleState)
	assert.True(t, procurement.IsRetryable(err))

	_, err = eng.ConfirmFirstParty(ctx, p.ID, "finance-1")
	assert.ErrorIs(t, err, procurement.ErrAlreadySigned)

	stored, err := eng.Payment(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.FirstParty)
	assert.Equal(t, procurement.ActorID("finance-2"), stored.FirstParty.Actor)
}

func TestBalance_CountsOnlyFullySignedPayments(t *testing.T) {
	// GIVEN: Gross 1,160,000.00, one fully signed payment of 500,000.00
	//        and one half-signed payment of 660,000.00
	// WHEN: Reading the balance
	// THEN: Paid-to-date is 500,000.00 and 660,000.00 remains

	eng, _ := newMemoryEngine(t)
	ctx := context.Background()
	plan, _ := assessedPlan(t, eng, line("pertalite", "tank-1", "10000.00", "100.00"))

	first, err := eng.SubmitPayment(ctx, plan.ID, v("500000.00"), bank, "finance")
	require.NoError(t, err)
	_, err = eng.ConfirmFirstParty(ctx, first.ID, "finance")
	require.NoError(t, err)
	_, err = eng.ConfirmSecondParty(ctx, first.ID, "director")
	require.NoError(t, err)

	second, err := eng.SubmitPayment(ctx, plan.ID, v("660000.00"), bank, "finance")
	require.NoError(t, err)
	_, err = eng.ConfirmFirstParty(ctx, second.ID, "finance")
	require.NoError(t, err)

	b, err := eng.Balance(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, v("1160000.00"), b.GrossTotal)
	assert.Equal(t, v("500000.00"), b.PaidToDate)
	assert.Equal(t, v("660000.00"), b.Pending)
	assert.Equal(t, v("660000.00"), b.Remaining)
	assert.Equal(t, procurement.Value(0), b.Overpaid)
	assert.Equal(t, 2, b.Payments)

	paid, err := eng.PaidToDate(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, v("500000.00"), paid)

	_, err = eng.ConfirmSecondParty(ctx, second.ID, "director")
	require.NoError(t, err)
	remaining, err := eng.RemainingBalance(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, procurement.Value(0), remaining)
}

func TestSettlePayments_Overpaid(t *testing.T) {
	signed := &procurement.Payment{
		Amount:      v("120.00"),
		FirstParty:  &procurement.Signoff{Actor: "a"},
		SecondParty: &procurement.Signoff{Actor: "b"},
	}
	unsigned := &procurement.Payment{Amount: v("50.00")}

	b := procurement.SettlePayments(v("100.00"), []*procurement.Payment{signed, unsigned})

	assert.Equal(t, v("120.00"), b.PaidToDate)
	assert.Equal(t, v("50.00"), b.Pending)
	assert.Equal(t, procurement.Value(0), b.Remaining)
	assert.Equal(t, v("20.00"), b.Overpaid)
}

func TestDeletePayment(t *testing.T) {
	// GIVEN: One unsigned and one first-signed payment
	// WHEN: Deleting both
	// THEN: Only the unsigned one disappears

	eng, _ := newMemoryEngine(t)
	ctx := context.Background()
	plan, _ := assessedPlan(t, eng, line("pertalite", "tank-1", "10000.00", "100.00"))

	unsigned, err := eng.SubmitPayment(ctx, plan.ID, v("100.00"), bank, "finance")
	require.NoError(t, err)
	signed, err := eng.SubmitPayment(ctx, plan.ID, v("200.00"), bank, "finance")
	require.NoError(t, err)
	_, err = eng.ConfirmFirstParty(ctx, signed.ID, "finance")
	require.NoError(t, err)

	require.NoError(t, eng.DeletePayment(ctx, unsigned.ID))
	err = eng.DeletePayment(ctx, signed.ID)
	assert.ErrorIs(t, err, procurement.ErrCannotDeleteSignedPayment)

	_, err = eng.Payment(ctx, unsigned.ID)
	assert.ErrorIs(t, err, procurement.ErrNotFound)

	payments, err := eng.Payments(ctx, plan.ID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, signed.ID, payments[0].ID)
}

func TestSubmitPayment_OverpaymentTolerance(t *testing.T) {
	// GIVEN: Gross 1,160,000.00 and a tolerance of 100.00
	// WHEN: Submitting payments
	// THEN: Unsigned payments count toward the limit, and a payment taking
	//       the total past gross + tolerance is rejected

	eng, _ := newMemoryEngine(t)
	ctx := context.Background()
	tol := v("100.00")
	eng.MaxOverpaymentTolerance = &tol
	plan, _ := assessedPlan(t, eng, line("pertalite", "tank-1", "10000.00", "100.00"))

	_, err := eng.SubmitPayment(ctx, plan.ID, v("1160000.00"), bank, "finance")
	require.NoError(t, err)
	_, err = eng.SubmitPayment(ctx, plan.ID, v("100.00"), bank, "finance")
	require.NoError(t, err)

	_, err = eng.SubmitPayment(ctx, plan.ID, v("0.01"), bank, "finance")
	assert.ErrorIs(t, err, procurement.ErrOverpayment)
}

func TestSubmitPayment_RejectsOutOfRangeTotal(t *testing.T) {
	eng, _ := newMemoryEngine(t)
	ctx := context.Background()
	plan, _ := assessedPlan(t, eng, line("pertalite", "tank-1", "10000.00", "100.00"))
	huge := v("40000000000000000.00")

	_, err := eng.SubmitPayment(ctx, plan.ID, huge, bank, "finance")
	require.NoError(t, err)

	_, err = eng.SubmitPayment(ctx, plan.ID, huge, bank, "finance")
	assert.ErrorIs(t, err, procurement.ErrInvalidAmount)
	assert.ErrorIs(t, err, procurement.ErrInvalidValue)

	payments, err := eng.Payments(ctx, plan.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 1)
}

func TestSubmitPayment_NoToleranceAllowsAdvancePayments(t *testing.T) {
	eng, _ := newMemoryEngine(t)
	ctx := context.Background()
	plan, _ := assessedPlan(t, eng, line("pertalite", "tank-1", "10.00", "1.00"))

	_, err := eng.SubmitPayment(ctx, plan.ID, v("1000.00"), bank, "finance")
	assert.NoError(t, err)
}
