package model

import (
	"encoding/json"
	"testing"
)

// TestParseMoney проверяет разбор денежных сумм.
func TestParseMoney(t *testing.T) {
	tests := []struct {
		in      string
		want    Money
		wantErr bool
	}{
		{"0", 0, false},
		{"1250", 125000, false},
		{"1250.5", 125050, false},
		{"1250.05", 125005, false},
		{"0.99", 99, false},
		{"-1", 0, true},
		{"1.234", 0, true},
		{"1.", 0, true},
		{"abc", 0, true},
		{"", 0, true},
		{"+7", 0, true},
		{"1.+5", 0, true},
		{"1.-5", 0, true},
		{".5", 0, true},
		{"1_000", 0, true},
		{"1e3", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseMoney(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseMoney(%q): ожидалась ошибка", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseMoney(%q): неожиданная ошибка: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseMoney(%q) = %d, хотели %d", tt.in, got, tt.want)
		}
	}
}

// TestMoney_JSON проверяет, что сумма принимается и числом, и строкой.
func TestMoney_JSON(t *testing.T) {
	var body struct {
		A *Money `json:"a"`
		B *Money `json:"b"`
	}
	if err := json.Unmarshal([]byte(`{"a": 10.5, "b": "99.99"}`), &body); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if *body.A != 1050 || *body.B != 9999 {
		t.Errorf("A=%d B=%d, хотели 1050 и 9999", *body.A, *body.B)
	}

	data, err := json.Marshal(Money(1050))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != "10.50" {
		t.Errorf("Marshal = %s, хотели 10.50", data)
	}
}

// TestPermission_Covers проверяет, что write покрывает read.
func TestPermission_Covers(t *testing.T) {
	if !PermissionWrite.Covers(PermissionRead) {
		t.Error("write должен покрывать read")
	}
	if PermissionRead.Covers(PermissionWrite) {
		t.Error("read не должен покрывать write")
	}
	if Permission("admin").Covers(PermissionRead) {
		t.Error("неизвестное право ничего не покрывает")
	}
}
