package terminology

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/emisx/expander/models/fhir"
	"github.com/rs/zerolog"
)

func lookupResponse(display string, inactive bool, associations map[string]string) *fhir.Parameters {
	params := []fhir.Parameter{
		{Name: "display", ValueString: display},
		{Name: "property", Part: []fhir.Parameter{
			{Name: "code", ValueCode: "inactive"},
			{Name: "value", ValueBoolean: boolPtr(inactive)},
		}},
	}
	for prop, target := range associations {
		params = append(params, fhir.Parameter{Name: "property", Part: []fhir.Parameter{
			{Name: "code", ValueCode: prop},
			{Name: "value", ValueCode: target},
		}})
	}
	return fhir.NewParameters(params...)
}

func TestResolveActiveConcept(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(lookupResponse("Diabetes mellitus", false, nil))
	})

	resolver := NewHistoricalResolver(client, zerolog.Nop())

	res := resolver.Resolve(context.Background(), "73211009")
	if res.CurrentID != "73211009" {
		t.Errorf("CurrentID = %q, want 73211009", res.CurrentID)
	}
	if res.IsHistorical {
		t.Error("IsHistorical = true for active concept")
	}
	if res.Display != "Diabetes mellitus" {
		t.Errorf("Display = %q", res.Display)
	}
}

func TestResolveFollowsAssociationPriority(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(lookupResponse("Retired concept", true, map[string]string{
			PropertyPossiblyEquivalentTo: "33333333",
			PropertyReplacedBy:           "22222222",
			PropertySameAs:               "11111111",
		}))
	})

	resolver := NewHistoricalResolver(client, zerolog.Nop())

	res := resolver.Resolve(context.Background(), "99999999")
	if res.CurrentID != "11111111" {
		t.Errorf("CurrentID = %q, want SAME_AS target 11111111", res.CurrentID)
	}
	if !res.IsHistorical {
		t.Error("IsHistorical = false for redirected concept")
	}
}

func TestResolveInactiveWithoutAssociation(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(lookupResponse("Orphaned concept", true, nil))
	})

	resolver := NewHistoricalResolver(client, zerolog.Nop())

	res := resolver.Resolve(context.Background(), "88888888")
	if res.CurrentID != "88888888" {
		t.Errorf("CurrentID = %q, want original id kept", res.CurrentID)
	}
	if !res.IsHistorical {
		t.Error("IsHistorical = false, want true")
	}
}

func TestResolveDegradesOnLookupFailure(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	})

	resolver := NewHistoricalResolver(client, zerolog.Nop())

	res := resolver.Resolve(context.Background(), "73211009")
	if res.CurrentID != "73211009" || res.IsHistorical {
		t.Errorf("Resolve() = %+v, want degraded passthrough", res)
	}
}

func TestResolveUnknownConcept(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})

	resolver := NewHistoricalResolver(client, zerolog.Nop())

	res := resolver.Resolve(context.Background(), "12345678")
	if res.CurrentID != "12345678" || res.IsHistorical {
		t.Errorf("Resolve() = %+v, want passthrough for unknown concept", res)
	}
}

func TestResolveBatch(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var params fhir.Parameters
		json.NewDecoder(r.Body).Decode(&params)
		code := ""
		if p := params.Find("code"); p != nil {
			code = p.ValueCode
		}

		if code == "99999999" {
			json.NewEncoder(w).Encode(lookupResponse("Old", true, map[string]string{
				PropertyReplacedBy: "73211009",
			}))
			return
		}
		json.NewEncoder(w).Encode(lookupResponse("Current", false, nil))
	})

	resolver := NewHistoricalResolver(client, zerolog.Nop())

	resolutions, err := resolver.ResolveBatch(context.Background(), []string{"73211009", "99999999"})
	if err != nil {
		t.Fatalf("ResolveBatch() error: %v", err)
	}
	if len(resolutions) != 2 {
		t.Fatalf("ResolveBatch() returned %d entries, want 2", len(resolutions))
	}
	if got := resolutions["99999999"]; got.CurrentID != "73211009" || !got.IsHistorical {
		t.Errorf("resolutions[99999999] = %+v", got)
	}
	if got := resolutions["73211009"]; got.CurrentID != "73211009" || got.IsHistorical {
		t.Errorf("resolutions[73211009] = %+v", got)
	}
}
