package core

import (
	"encoding/json"
	"testing"
)

func TestParseCents(t *testing.T) {
	cases := []struct {
		in  string
		out int64
		ok  bool
	}{
		{"1", 100, true},
		{"1.0", 100, true},
		{"1.23", 123, true},
		{"1,23", 123, true},
		{"0.01", 1, true},
		{"1.005", 101, true}, // half-up rounding
		{" 2.50 ", 250, true},
		{"0", 0, true},
		{"-1", -100, true},
		{"abc", 0, false},
		{"1.2.3", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseCents(tc.in)
		if tc.ok {
			if err != nil || got != tc.out {
				t.Fatalf("%q expected %d, got %d (err=%v)", tc.in, tc.out, got, err)
			}
		} else {
			if err == nil {
				t.Fatalf("%q expected error", tc.in)
			}
		}
	}
}

func TestMoneyString(t *testing.T) {
	cases := []struct {
		cents int64
		want  string
	}{
		{5000, "50"},
		{3333, "33.33"},
		{4500, "45"},
		{1230, "12.3"},
		{1, "0.01"},
		{-250, "-2.5"},
	}
	for _, tc := range cases {
		if got := (Money{Cents: tc.cents}).String(); got != tc.want {
			t.Fatalf("Money{%d}.String() = %q, want %q", tc.cents, got, tc.want)
		}
	}
}

func TestMoneyJSONRoundTrip(t *testing.T) {
	in := Money{Cents: 3333}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != "33.33" {
		t.Fatalf("marshal = %s, want 33.33", data)
	}
	var out Money
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out != in {
		t.Fatalf("round trip %v != %v", out, in)
	}
}

func TestMoneyUnmarshalInvalidLeavesZero(t *testing.T) {
	var m Money
	if err := json.Unmarshal([]byte(`"abc"`), &m); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Cents != 0 {
		t.Fatalf("expected zero cents, got %d", m.Cents)
	}
}
