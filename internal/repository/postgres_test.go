package repository

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/picopai-system/internal/model"
)

func TestWithdrawalMatchesInput(t *testing.T) {
	base := model.Withdrawal{
		WorkerEmail: "worker@x.com",
		CoinAmount:  50,
		CashAmount:  decimal.NewFromInt(5),
	}

	tests := []struct {
		name  string
		input CreateWithdrawalInput
		want  bool
	}{
		{
			name:  "same payload",
			input: CreateWithdrawalInput{WorkerEmail: "worker@x.com", CoinAmount: 50, CashAmount: decimal.NewFromInt(5)},
			want:  true,
		},
		{
			name:  "equal cash in different representation",
			input: CreateWithdrawalInput{WorkerEmail: "worker@x.com", CoinAmount: 50, CashAmount: decimal.RequireFromString("5.00")},
			want:  true,
		},
		{
			name:  "different worker",
			input: CreateWithdrawalInput{WorkerEmail: "other@x.com", CoinAmount: 50, CashAmount: decimal.NewFromInt(5)},
			want:  false,
		},
		{
			name:  "different coin amount",
			input: CreateWithdrawalInput{WorkerEmail: "worker@x.com", CoinAmount: 60, CashAmount: decimal.NewFromInt(5)},
			want:  false,
		},
		{
			name:  "different cash amount",
			input: CreateWithdrawalInput{WorkerEmail: "worker@x.com", CoinAmount: 50, CashAmount: decimal.NewFromInt(6)},
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := withdrawalMatchesInput(&base, tt.input); got != tt.want {
				t.Errorf("withdrawalMatchesInput() = %v, want %v", got, tt.want)
			}
		})
	}
}
