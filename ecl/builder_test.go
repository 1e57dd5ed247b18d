package ecl

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestBuildQueryGroupsAndOrders(t *testing.T) {
	values := []Value{
		{Code: "73211009"},
		{Code: "44054006", IncludeChildren: true},
		{Code: "999000001", IsRefset: true},
		{Code: "195967001", IncludeChildren: true},
	}

	got := BuildQuery(values, nil, zerolog.Nop())
	want := "^ 999000001 OR << 44054006 OR << 195967001 OR 73211009"
	if got != want {
		t.Errorf("BuildQuery() = %q, want %q", got, want)
	}
}

func TestBuildQueryIsDeterministic(t *testing.T) {
	values := []Value{
		{Code: "999000001", IsRefset: true},
		{Code: "73211009", IncludeChildren: true},
		{Code: "44054006"},
	}

	first := BuildQuery(values, []string{"195967001"}, zerolog.Nop())
	second := BuildQuery(values, []string{"195967001"}, zerolog.Nop())
	if first != second {
		t.Errorf("BuildQuery() not deterministic: %q vs %q", first, second)
	}
}

func TestBuildQueryDropsInvalidCodes(t *testing.T) {
	values := []Value{
		{Code: "M"},
		{Code: "12"},
		{Code: "73211009"},
	}

	got := BuildQuery(values, nil, zerolog.Nop())
	if got != "73211009" {
		t.Errorf("BuildQuery() = %q, want invalid codes dropped", got)
	}
}

func TestBuildQueryAllInvalid(t *testing.T) {
	values := []Value{{Code: "M"}, {Code: "12"}}

	if got := BuildQuery(values, nil, zerolog.Nop()); got != "" {
		t.Errorf("BuildQuery() = %q, want empty expression", got)
	}
}

func TestBuildQueryDeduplicates(t *testing.T) {
	values := []Value{
		{Code: "73211009"},
		{Code: "73211009", IncludeChildren: true},
	}

	got := BuildQuery(values, nil, zerolog.Nop())
	if got != "73211009" {
		t.Errorf("BuildQuery() = %q, want first occurrence kept", got)
	}
}

func TestBuildQueryWrapsExclusions(t *testing.T) {
	values := []Value{
		{Code: "73211009", IncludeChildren: true},
	}

	got := BuildQuery(values, []string{"44054006", "195967001"}, zerolog.Nop())
	want := "(<< 73211009) MINUS (<< 44054006 OR << 195967001)"
	if got != want {
		t.Errorf("BuildQuery() = %q, want %q", got, want)
	}
}

func TestBuildProductQuery(t *testing.T) {
	got := BuildProductQuery("387517004")
	want := "<< (< 10363601000001109 |UK Product| : 762949000 |Has precise active ingredient| = << 387517004)"
	if got != want {
		t.Errorf("BuildProductQuery() = %q, want %q", got, want)
	}
}
