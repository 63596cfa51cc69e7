package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestQuantizeRoundsHalfUp(t *testing.T) {
	cases := map[string]string{
		"1.00005":  "1.0001",
		"1.00004":  "1.0000",
		"1.0001":   "1.0001",
		"-1.00005": "-1.0001",
		"0":        "0",
		"99.99995": "100",
	}
	for in, want := range cases {
		got := Quantize(decimal.RequireFromString(in))
		require.True(t, got.Equal(decimal.RequireFromString(want)), "quantize(%s) = %s, want %s", in, got, want)
	}
}

func TestQuantizeFeeSum(t *testing.T) {
	base := decimal.RequireFromString("1.0001")
	feePlatform := decimal.RequireFromString("0.00005")
	feeAgent := decimal.RequireFromString("0.00005")

	total := Quantize(base.Add(feePlatform).Add(feeAgent))
	require.True(t, total.Equal(decimal.RequireFromString("1.0002")))
}

func TestWithinEpsilon(t *testing.T) {
	require.True(t, WithinEpsilon(decimal.RequireFromString("0.0005")))
	require.True(t, WithinEpsilon(decimal.RequireFromString("-0.0005")))
	require.False(t, WithinEpsilon(decimal.RequireFromString("0.001")))
	require.False(t, WithinEpsilon(decimal.RequireFromString("5")))
}

func TestAccountBuckets(t *testing.T) {
	a := &CreditAccount{
		FreeCredits:   decimal.RequireFromString("100.0000"),
		RewardCredits: decimal.RequireFromString("2.5000"),
		Credits:       decimal.RequireFromString("0.0001"),
	}
	require.True(t, a.TotalBalance().Equal(decimal.RequireFromString("102.5001")))

	a.SetBucket(CreditTypeFree, decimal.RequireFromString("70"))
	require.True(t, a.Bucket(CreditTypeFree).Equal(decimal.RequireFromString("70")))
	require.True(t, a.Bucket(CreditTypePermanent).Equal(decimal.RequireFromString("0.0001")))
}

func TestTransactionSigned(t *testing.T) {
	amt := decimal.RequireFromString("30.0000")
	credit := &CreditTransaction{CreditDebit: CreditDebitCredit, ChangeAmount: amt}
	debit := &CreditTransaction{CreditDebit: CreditDebitDebit, ChangeAmount: amt}

	require.True(t, credit.Signed().Equal(amt))
	require.True(t, debit.Signed().Equal(amt.Neg()))
}
