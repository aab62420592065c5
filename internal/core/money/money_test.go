package money

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestRoundHalfAwayFromZero(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int64
	}{
		{"integer stays", "545", 545},
		{"half rounds up", "2.5", 3},
		{"half rounds away below zero", "-2.5", -3},
		{"below half rounds down", "18.3486", 18},
		{"above half rounds up", "18.51", 19},
		{"exact half at zero point five", "0.5", 1},
		{"negative below half", "-0.4", 0},
		{"zero", "0", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := decimal.NewFromString(tt.in)
			if err != nil {
				t.Fatalf("bad fixture %q: %v", tt.in, err)
			}
			if got := Round(d); got != tt.want {
				t.Errorf("Round(%s) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestApplyRate(t *testing.T) {
	tests := []struct {
		name   string
		amount int64
		rate   string
		want   int64
	}{
		{"whole rate", 100, "5.45", 545},
		{"inverse rate rounds", 100, "0.1834862385321101", 18},
		{"unit rate", 1234, "1", 1234},
		{"rate below one", 1000, "0.305", 305},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rate, err := decimal.NewFromString(tt.rate)
			if err != nil {
				t.Fatalf("bad fixture %q: %v", tt.rate, err)
			}
			if got := ApplyRate(tt.amount, rate); got != tt.want {
				t.Errorf("ApplyRate(%d, %s) = %d, want %d", tt.amount, tt.rate, got, tt.want)
			}
		})
	}
}

func TestShare(t *testing.T) {
	total := int64(1000)
	shares := []struct {
		pct  string
		want int64
	}{
		{"0.7", 700},
		{"0.2", 200},
		{"0.1", 100},
		{"0.333", 333},
		{"0.0005", 1},
	}
	for _, s := range shares {
		pct, err := decimal.NewFromString(s.pct)
		if err != nil {
			t.Fatalf("bad fixture %q: %v", s.pct, err)
		}
		if got := Share(total, pct); got != s.want {
			t.Errorf("Share(%d, %s) = %d, want %d", total, s.pct, got, s.want)
		}
	}
}

func TestCurrencyValidate(t *testing.T) {
	valid := []Currency{"BRL", "USD", "BTC", "X9"}
	for _, c := range valid {
		if err := c.Validate(); err != nil {
			t.Errorf("Validate(%q) = %v, want nil", c, err)
		}
	}
	invalid := []Currency{"", "br l", "usd", "R$"}
	for _, c := range invalid {
		if err := c.Validate(); err == nil {
			t.Errorf("Validate(%q) = nil, want error", c)
		}
	}
}

func TestNewCurrencyNormalizes(t *testing.T) {
	if got := NewCurrency(" brl "); got != Currency("BRL") {
		t.Errorf("NewCurrency normalization = %q, want BRL", got)
	}
}
