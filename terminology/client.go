package terminology

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/emisx/expander/models/fhir"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
)

const (
	translateTimeout = 10 * time.Second
	lookupTimeout    = 10 * time.Second
	expandTimeout    = 30 * time.Second
)

// Lookup property codes requested for historical resolution.
const (
	propertyInactive             = "inactive"
	PropertySameAs               = "SAME_AS"
	PropertyReplacedBy           = "REPLACED_BY"
	PropertyPossiblyEquivalentTo = "POSSIBLY_EQUIVALENT_TO"
)

// Config carries the settings for a terminology server client.
type Config struct {
	BaseURL      string
	SourceSystem string
	TargetSystem string

	TokenURL     string
	ClientID     string
	ClientSecret string

	HTTPTimeout time.Duration

	// Retry backoff bounds; zero values keep the retry library's defaults.
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// TranslatedCode is the outcome of a successful concept-map translation.
type TranslatedCode struct {
	Code        string `json:"code"`
	Display     string `json:"display,omitempty"`
	Equivalence string `json:"equivalence,omitempty"`
}

// LookupResult carries the properties of a $lookup response that the
// pipeline cares about.
type LookupResult struct {
	Display      string
	Inactive     bool
	Associations map[string]string
}

// Client wraps the three terminology server operations the pipeline uses:
// ConceptMap $translate, CodeSystem $lookup and ValueSet $expand. It is
// stateless apart from the shared token cache.
type Client struct {
	baseURL      string
	sourceSystem string
	targetSystem string
	httpClient   *http.Client
	tokens       *TokenSource
	log          zerolog.Logger
}

func NewClient(cfg Config, log zerolog.Logger) *Client {
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 60 * time.Second
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.Logger = nil
	retryClient.HTTPClient = &http.Client{Timeout: cfg.HTTPTimeout}
	// Hand the final response back once retries are exhausted, so a
	// persistent 5xx surfaces as a ProtocolError with its status code
	// rather than a generic transport failure.
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	if cfg.RetryWaitMin > 0 {
		retryClient.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		retryClient.RetryWaitMax = cfg.RetryWaitMax
	}
	httpClient := retryClient.StandardClient()

	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		sourceSystem: cfg.SourceSystem,
		targetSystem: cfg.TargetSystem,
		httpClient:   httpClient,
		tokens:       NewTokenSource(cfg.TokenURL, cfg.ClientID, cfg.ClientSecret, httpClient, log),
		log:          log,
	}
}

// Translate runs ConceptMap $translate for a single source code against the
// given concept map. A 404 or an unmatched result returns (nil, nil); the
// equivalence grade is left for the caller to judge.
func (c *Client) Translate(ctx context.Context, conceptMapID, code string) (*TranslatedCode, error) {
	params := fhir.NewParameters(
		fhir.Parameter{Name: "code", ValueCode: code},
		fhir.Parameter{Name: "system", ValueUri: c.sourceSystem},
		fhir.Parameter{Name: "target", ValueUri: c.targetSystem},
	)

	endpoint := fmt.Sprintf("%s/ConceptMap/%s/$translate", c.baseURL, conceptMapID)

	ctx, cancel := context.WithTimeout(ctx, translateTimeout)
	defer cancel()

	var result fhir.Parameters
	found, err := c.post(ctx, "translate", endpoint, params, &result)
	if err != nil || !found {
		return nil, err
	}

	resultParam := result.Find("result")
	if resultParam == nil || resultParam.ValueBoolean == nil || !*resultParam.ValueBoolean {
		return nil, nil
	}

	match := result.Find("match")
	if match == nil {
		return nil, nil
	}

	translated := &TranslatedCode{}
	if eq := match.FindPart("equivalence"); eq != nil {
		translated.Equivalence = eq.ValueCode
		if translated.Equivalence == "" {
			translated.Equivalence = eq.ValueString
		}
	}
	concept := match.FindPart("concept")
	if concept == nil || concept.ValueCoding == nil || concept.ValueCoding.Code == "" {
		return nil, nil
	}
	translated.Code = concept.ValueCoding.Code
	translated.Display = concept.ValueCoding.Display

	return translated, nil
}

// Lookup runs CodeSystem $lookup for a concept, requesting the inactivity
// flag and the three historical-association properties. A 404 returns
// (nil, nil): the concept is simply unknown to the server.
func (c *Client) Lookup(ctx context.Context, conceptID string) (*LookupResult, error) {
	params := fhir.NewParameters(
		fhir.Parameter{Name: "system", ValueUri: c.targetSystem},
		fhir.Parameter{Name: "code", ValueCode: conceptID},
		fhir.Parameter{Name: "property", ValueCode: propertyInactive},
		fhir.Parameter{Name: "property", ValueCode: PropertySameAs},
		fhir.Parameter{Name: "property", ValueCode: PropertyReplacedBy},
		fhir.Parameter{Name: "property", ValueCode: PropertyPossiblyEquivalentTo},
	)

	endpoint := c.baseURL + "/CodeSystem/$lookup"

	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	var result fhir.Parameters
	found, err := c.post(ctx, "lookup", endpoint, params, &result)
	if err != nil || !found {
		return nil, err
	}

	lookup := &LookupResult{Associations: make(map[string]string)}
	if display := result.Find("display"); display != nil {
		lookup.Display = display.ValueString
	}
	if prop := result.Property(propertyInactive); prop != nil {
		if value := prop.FindPart("value"); value != nil && value.ValueBoolean != nil {
			lookup.Inactive = *value.ValueBoolean
		}
	}
	for _, assoc := range []string{PropertySameAs, PropertyReplacedBy, PropertyPossiblyEquivalentTo} {
		if prop := result.Property(assoc); prop != nil {
			if value := prop.FindPart("value"); value != nil && value.ValueCode != "" {
				lookup.Associations[assoc] = value.ValueCode
			}
		}
	}

	return lookup, nil
}

// Expand evaluates an ECL expression via ValueSet $expand. The expression is
// embedded in the implicit value set URL, which the server expects nested and
// therefore double URL-encoded. An empty expression returns no concepts.
func (c *Client) Expand(ctx context.Context, ecl string) ([]fhir.Coding, error) {
	if strings.TrimSpace(ecl) == "" {
		c.log.Warn().Msg("Empty ECL expression provided, returning empty result")
		return nil, nil
	}

	implicitVS := "http://snomed.info/sct?fhir_vs=ecl/" + encodeComponent(ecl)
	endpoint := fmt.Sprintf("%s/ValueSet/$expand?url=%s", c.baseURL, encodeComponent(implicitVS))

	ctx, cancel := context.WithTimeout(ctx, expandTimeout)
	defer cancel()

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("expand: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("expand: failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/fhir+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "expand", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("expand: failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ProtocolError{Op: "expand", StatusCode: resp.StatusCode, Body: truncate(string(body), 500)}
	}

	var valueSet fhir.ValueSet
	if err := json.Unmarshal(body, &valueSet); err != nil {
		return nil, fmt.Errorf("expand: failed to decode response: %w", err)
	}

	if valueSet.Expansion == nil || len(valueSet.Expansion.Contains) == 0 {
		c.log.Warn().Str("ecl", truncate(ecl, 200)).Msg("Expansion returned no concepts")
		return nil, nil
	}

	return valueSet.Expansion.Contains, nil
}

// post sends a Parameters body and decodes a Parameters response. The bool
// result distinguishes a 404 (false, nil) from a decoded response.
func (c *Client) post(ctx context.Context, op, endpoint string, body *fhir.Parameters, response *fhir.Parameters) (bool, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return false, fmt.Errorf("%s: failed to marshal request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("%s: failed to create request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/fhir+json")
	req.Header.Set("Content-Type", "application/fhir+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("%s: failed to read response body: %w", op, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, &ProtocolError{Op: op, StatusCode: resp.StatusCode, Body: truncate(string(respBody), 500)}
	}

	if err := json.Unmarshal(respBody, response); err != nil {
		return false, fmt.Errorf("%s: failed to decode response: %w", op, err)
	}

	return true, nil
}

// encodeComponent percent-encodes like JavaScript's encodeURIComponent:
// url.QueryEscape but with spaces as %20 rather than '+'.
func encodeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
