package main

import (
	"testing"

	"riskdesk/internal/domain"
)

func TestParsePlace(t *testing.T) {
	tests := []struct {
		args      []string
		wantType  domain.OrderType
		wantLimit float64
		wantStop  float64
	}{
		{[]string{"buy", "AAPL", "10"}, domain.OrderTypeMarket, 0, 0},
		{[]string{"sell", "AAPL", "10", "150.5"}, domain.OrderTypeLimit, 150.5, 0},
		{[]string{"sell", "AAPL", "10", "0", "140"}, domain.OrderTypeStop, 0, 140},
		{[]string{"buy", "AAPL", "10", "151", "150"}, domain.OrderTypeStopLimit, 151, 150},
	}
	for _, tt := range tests {
		req, err := parsePlace(tt.args)
		if err != nil {
			t.Fatalf("parsePlace(%v): %v", tt.args, err)
		}
		if req.Type != tt.wantType || req.LimitPrice != tt.wantLimit || req.StopPrice != tt.wantStop {
			t.Errorf("parsePlace(%v) = %+v", tt.args, req)
		}
		if req.Symbol != "AAPL" || req.Qty != 10 {
			t.Errorf("parsePlace(%v) symbol/qty = %s/%g", tt.args, req.Symbol, req.Qty)
		}
	}
}

func TestParsePlaceErrors(t *testing.T) {
	for _, args := range [][]string{
		{"buy", "AAPL"},
		{"buy", "AAPL", "ten"},
		{"buy", "AAPL", "1", "2", "3", "4"},
	} {
		if _, err := parsePlace(args); err == nil {
			t.Errorf("parsePlace(%v): expected error", args)
		}
	}
}
