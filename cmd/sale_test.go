package cmd

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseItem(t *testing.T) {
	tests := []struct {
		raw     string
		name    string
		qty     int64
		price   string
		cost    string
		wantErr bool
	}{
		{raw: "Bread:2:1.50:1.00", name: "Bread", qty: 2, price: "1.50", cost: "1.00"},
		{raw: "Milk:1:0.90", name: "Milk", qty: 1, price: "0.90", cost: "0"},
		{raw: "Rice 5kg:1:12.00:9.50", name: "Rice 5kg", qty: 1, price: "12.00", cost: "9.50"},
		{raw: "Cable A:B:3:4.00", name: "Cable A:B", qty: 3, price: "4.00", cost: "0"},
		{raw: "Bread:2", wantErr: true},
		{raw: "Bread:two:1.50", wantErr: true},
		{raw: "Bread:2:cheap", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			item, err := parseItem(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseItem(%q) = %+v, want error", tt.raw, item)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if item.Name != tt.name || item.Quantity != tt.qty {
				t.Errorf("item = %+v", item)
			}
			if !item.UnitPrice.Equal(decimal.RequireFromString(tt.price)) || !item.CostPrice.Equal(decimal.RequireFromString(tt.cost)) {
				t.Errorf("prices = %s/%s, want %s/%s", item.UnitPrice, item.CostPrice, tt.price, tt.cost)
			}
		})
	}
}
