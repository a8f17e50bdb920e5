package formx

import (
	"net/url"
	"testing"
)

func TestUnflattenThriveCartPayload(t *testing.T) {
	form := url.Values{}
	form.Set("event", "order.success")
	form.Set("customer[email]", "buyer@example.com")
	form.Set("customer[name]", "Ada Buyer")
	form.Set("order[id]", "987")
	form.Set("order[charges][0][amount]", "1000")
	form.Set("base_product", "9")

	got := Unflatten(form)

	tests := []struct {
		path []string
		want string
	}{
		{[]string{"event"}, "order.success"},
		{[]string{"customer", "email"}, "buyer@example.com"},
		{[]string{"customer", "name"}, "Ada Buyer"},
		{[]string{"order", "id"}, "987"},
		{[]string{"order", "charges", "0", "amount"}, "1000"},
		{[]string{"base_product"}, "9"},
		{[]string{"customer", "missing"}, ""},
		{[]string{"event", "nested"}, ""},
	}
	for _, tt := range tests {
		if v := Lookup(got, tt.path...); v != tt.want {
			t.Errorf("Lookup(%v) = %q, want %q", tt.path, v, tt.want)
		}
	}
}

func TestSplitKey(t *testing.T) {
	tests := map[string][]string{
		"plain":      {"plain"},
		"a[b]":       {"a", "b"},
		"a[b][c]":    {"a", "b", "c"},
		"a[]":        {"a", ""},
		"a[b":        {"a[b"},
		"[leading]":  {"[leading]"},
	}
	for in, want := range tests {
		got := splitKey(in)
		if len(got) != len(want) {
			t.Errorf("splitKey(%q) = %v, want %v", in, got, want)
			continue
		}
		for i := range got {
			if got[i] != want[i] {
				t.Errorf("splitKey(%q) = %v, want %v", in, got, want)
				break
			}
		}
	}
}

func TestParentWinsOverLeaf(t *testing.T) {
	form := url.Values{}
	form.Set("customer", "flat")
	form.Set("customer[email]", "x@example.com")
	got := Unflatten(form)
	if Lookup(got, "customer", "email") != "x@example.com" {
		t.Fatalf("expected nested email to survive, got %#v", got)
	}
}

func TestLookupJSONScalars(t *testing.T) {
	m := map[string]interface{}{
		"base_product": float64(9),
		"order":        map[string]interface{}{"id": float64(123456789)},
		"flag":         true,
	}
	if got := Lookup(m, "base_product"); got != "9" {
		t.Fatalf("base_product = %q", got)
	}
	if got := Lookup(m, "order", "id"); got != "123456789" {
		t.Fatalf("order id = %q", got)
	}
	if got := Lookup(m, "flag"); got != "true" {
		t.Fatalf("flag = %q", got)
	}
	if got := Lookup(m, "order"); got != "" {
		t.Fatalf("map leaf should be empty, got %q", got)
	}
}
