package source

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestReport(t *testing.T) {
	r := NewReport()
	if r.HasErrors() {
		t.Error("new report HasErrors() = true, want false")
	}
	if err := r.Err(); err != nil {
		t.Errorf("new report Err() = %v, want nil", err)
	}

	r.AddError("first")
	r.AddError("second")

	if !r.HasErrors() {
		t.Error("HasErrors() = false, want true")
	}

	got := r.Errors()
	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Errorf("Errors() = %q, want [first second]", got)
	}

	// Errors returns a copy
	got[0] = "changed"
	if r.Errors()[0] != "first" {
		t.Error("Errors() exposed internal slice")
	}

	err := r.Err()
	if err == nil {
		t.Fatal("Err() = nil, want error")
	}
	if !strings.Contains(err.Error(), "first") || !strings.Contains(err.Error(), "second") {
		t.Errorf("Err() = %q, want both messages", err.Error())
	}
}

func TestRecord(t *testing.T) {
	rec := NewRecord([]string{"sku", "name", "sku"}, []string{"A1", "Widget", "A2"})

	if rec.Len() != 3 {
		t.Errorf("Len() = %d, want 3", rec.Len())
	}
	if v, ok := rec.Get("name"); !ok || v != "Widget" {
		t.Errorf("Get(name) = %q, %v; want Widget, true", v, ok)
	}
	if v, _ := rec.Get("sku"); v != "A2" {
		t.Errorf("Get(sku) = %q, want last value A2", v)
	}
	if _, ok := rec.Get("missing"); ok {
		t.Error("Get(missing) ok = true, want false")
	}

	b, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if want := `{"sku":"A2","name":"Widget"}`; string(b) != want {
		t.Errorf("Marshal() = %s, want %s", b, want)
	}
}
