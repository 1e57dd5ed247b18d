package config

import "testing"

func setRequired(t *testing.T) {
	t.Setenv("ACCESS_TOKEN_URL", "https://auth.example/token")
	t.Setenv("CLIENT_ID", "client")
	t.Setenv("CLIENT_SECRET", "secret")
}

func TestLoadAppliesDefaults(t *testing.T) {
	setRequired(t)
	t.Setenv("TERMINOLOGY_SERVER", "")
	t.Setenv("PRIMARY_CONCEPT_MAP_ID", "")
	t.Setenv("LISTEN_ADDR", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.TerminologyServer != DefaultTerminologyServer {
		t.Errorf("TerminologyServer = %q", cfg.TerminologyServer)
	}
	if cfg.PrimaryConceptMapID != DefaultPrimaryConceptMapID {
		t.Errorf("PrimaryConceptMapID = %q", cfg.PrimaryConceptMapID)
	}
	if cfg.FallbackConceptMapID != DefaultFallbackConceptMapID {
		t.Errorf("FallbackConceptMapID = %q", cfg.FallbackConceptMapID)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("TERMINOLOGY_SERVER", "https://tx.example/fhir")
	t.Setenv("RF2_REFSET_FILE", "data/refset.txt")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.TerminologyServer != "https://tx.example/fhir" {
		t.Errorf("TerminologyServer = %q", cfg.TerminologyServer)
	}
	if cfg.RefsetFile != "data/refset.txt" {
		t.Errorf("RefsetFile = %q", cfg.RefsetFile)
	}
}

func TestLoadRequiresCredentials(t *testing.T) {
	t.Setenv("ACCESS_TOKEN_URL", "")
	t.Setenv("CLIENT_ID", "")
	t.Setenv("CLIENT_SECRET", "")

	if _, err := Load(); err == nil {
		t.Fatal("Load() succeeded without credentials")
	}
}
