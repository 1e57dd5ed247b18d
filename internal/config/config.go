package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Defaults for the OneLondon terminology service. Concept map ids select the
// EMIS CodeID to SNOMED CT maps published there.
const (
	DefaultTerminologyServer = "https://ontology.onelondon.online/production1/fhir"

	DefaultPrimaryConceptMapID  = "8d2953a3-b70b-4727-8a6a-8b4d912535ad" // EMIS -> SNOMED, version 2.1.4
	DefaultFallbackConceptMapID = "b5519813-31eb-4cad-8c77-b8999420e3c9" // DrugCodeID fallback

	SourceCodeSystem = "http://LDS.nhs/EMIS/CodeID/cs"
	SnomedCodeSystem = "http://snomed.info/sct"
)

// Config holds everything the expansion pipeline needs from the environment.
type Config struct {
	TerminologyServer string
	AccessTokenURL    string
	ClientID          string
	ClientSecret      string

	PrimaryConceptMapID  string
	FallbackConceptMapID string

	RefsetFile      string
	DescriptionFile string

	ListenAddr  string
	HTTPTimeout time.Duration
}

// Load reads configuration from a .env file (when present) and the process
// environment, applying defaults for everything except credentials.
func Load() (Config, error) {
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Config{
		TerminologyServer:    getenv("TERMINOLOGY_SERVER", DefaultTerminologyServer),
		AccessTokenURL:       os.Getenv("ACCESS_TOKEN_URL"),
		ClientID:             os.Getenv("CLIENT_ID"),
		ClientSecret:         os.Getenv("CLIENT_SECRET"),
		PrimaryConceptMapID:  getenv("PRIMARY_CONCEPT_MAP_ID", DefaultPrimaryConceptMapID),
		FallbackConceptMapID: getenv("FALLBACK_CONCEPT_MAP_ID", DefaultFallbackConceptMapID),
		RefsetFile:           os.Getenv("RF2_REFSET_FILE"),
		DescriptionFile:      os.Getenv("RF2_DESCRIPTION_FILE"),
		ListenAddr:           getenv("LISTEN_ADDR", ":8080"),
		HTTPTimeout:          60 * time.Second,
	}

	if cfg.AccessTokenURL == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return Config{}, fmt.Errorf("OAuth configuration missing: ACCESS_TOKEN_URL, CLIENT_ID and CLIENT_SECRET are required")
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
