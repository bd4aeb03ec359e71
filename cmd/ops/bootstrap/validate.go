package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// ValidationResult is the outcome of checking one operator-supplied value.
type ValidationResult struct {
	Valid   bool
	Message string
}

// HTTPClient is the subset of *http.Client used for the Stripe account lookup.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// DatabaseConnector opens and immediately closes a connection to dsn.
type DatabaseConnector interface {
	Connect(ctx context.Context, dsn string) error
}

// PgxConnector verifies a DSN with a single pgx connection.
type PgxConnector struct{}

// Connect dials dsn and closes the connection.
func (c *PgxConnector) Connect(ctx context.Context, dsn string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	return conn.Close(ctx)
}

// Validator holds the clients used to check values before they are written.
type Validator struct {
	httpClient HTTPClient
	dbConn     DatabaseConnector
	stripeBase string
}

const defaultStripeBase = "https://api.stripe.com"

// NewValidator creates a Validator with a 10s HTTP client and a pgx connector.
func NewValidator() *Validator {
	return &Validator{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		dbConn:     &PgxConnector{},
		stripeBase: defaultStripeBase,
	}
}

// NewValidatorWithDeps creates a Validator with injected clients.
func NewValidatorWithDeps(httpClient HTTPClient, dbConn DatabaseConnector, stripeBase string) *Validator {
	if stripeBase == "" {
		stripeBase = defaultStripeBase
	}
	return &Validator{
		httpClient: httpClient,
		dbConn:     dbConn,
		stripeBase: stripeBase,
	}
}

const validateTimeout = 15 * time.Second

// ValidateDatabaseURL checks the scheme and then connects once with pgx.
func (v *Validator) ValidateDatabaseURL(ctx context.Context, rawURL string) ValidationResult {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ValidationResult{Valid: false, Message: "database URL must not be empty"}
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ValidationResult{Valid: false, Message: fmt.Sprintf("invalid URL format: %v", err)}
	}
	if parsed.Scheme != "postgres" && parsed.Scheme != "postgresql" {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("expected postgres:// or postgresql:// scheme, got %q", parsed.Scheme),
		}
	}
	if parsed.Hostname() == "" {
		return ValidationResult{Valid: false, Message: "database URL has no host"}
	}

	connCtx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()

	if err := v.dbConn.Connect(connCtx, rawURL); err != nil {
		return ValidationResult{Valid: false, Message: fmt.Sprintf("connection failed: %v", err)}
	}

	return ValidationResult{
		Valid:   true,
		Message: fmt.Sprintf("database connection verified (host=%s)", parsed.Hostname()),
	}
}

// stripeKeyRegex accepts standard and restricted secret keys.
var stripeKeyRegex = regexp.MustCompile(`^(sk|rk)_(test|live)_[0-9a-zA-Z]{24,}$`)

// ValidateStripeKey checks the key format and calls GET /v1/account.
func (v *Validator) ValidateStripeKey(ctx context.Context, key string) ValidationResult {
	key = strings.TrimSpace(key)
	if key == "" {
		return ValidationResult{Valid: false, Message: "Stripe secret key must not be empty"}
	}
	if !stripeKeyRegex.MatchString(key) {
		return ValidationResult{
			Valid:   false,
			Message: "Stripe secret key must match format (sk|rk)_(test|live)_[alphanumeric 24+ chars]",
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, v.stripeBase+"/v1/account", nil)
	if err != nil {
		return ValidationResult{Valid: false, Message: fmt.Sprintf("failed to create request: %v", err)}
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("User-Agent", "LLCStack-Bootstrap/1.0")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return ValidationResult{Valid: false, Message: fmt.Sprintf("Stripe API request failed: %v", err)}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode == http.StatusUnauthorized {
		return ValidationResult{Valid: false, Message: "Stripe API returned 401 Unauthorized: key is invalid or revoked"}
	}
	if resp.StatusCode != http.StatusOK {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("Stripe API returned HTTP %d: %s", resp.StatusCode, truncateBody(body, 200)),
		}
	}

	var account struct {
		ID string `json:"id"`
	}
	displayInfo := ""
	if err := json.Unmarshal(body, &account); err == nil && account.ID != "" {
		displayInfo = fmt.Sprintf(" (account: %s)", account.ID)
	}

	mode := "test"
	if strings.Contains(key, "_live_") {
		mode = "live"
	}
	return ValidationResult{
		Valid:   true,
		Message: fmt.Sprintf("Stripe key verified [%s mode]%s", mode, displayInfo),
	}
}

// ValidateRegex checks input against pattern.
func (v *Validator) ValidateRegex(_ context.Context, input, pattern, fieldName string) ValidationResult {
	input = strings.TrimSpace(input)
	if input == "" {
		return ValidationResult{Valid: false, Message: fmt.Sprintf("%s must not be empty", fieldName)}
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return ValidationResult{Valid: false, Message: fmt.Sprintf("invalid regex pattern %q: %v", pattern, err)}
	}
	if !re.MatchString(input) {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("%s does not match expected format (pattern: %s)", fieldName, pattern),
		}
	}
	return ValidationResult{Valid: true, Message: fmt.Sprintf("%s format validated", fieldName)}
}

// ValidateSiteURL requires an absolute https URL without a trailing slash,
// since redirect URLs are built by appending paths to it.
func (v *Validator) ValidateSiteURL(_ context.Context, raw string) ValidationResult {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return ValidationResult{Valid: false, Message: "site URL must be an absolute https:// URL"}
	}
	if strings.HasSuffix(raw, "/") {
		return ValidationResult{Valid: false, Message: "site URL must not end with a slash"}
	}
	return ValidationResult{Valid: true, Message: fmt.Sprintf("site URL accepted (%s)", u.Host)}
}

// truncateBody returns the first n bytes of body, marking truncation.
func truncateBody(body []byte, n int) string {
	if len(body) <= n {
		return string(body)
	}
	return string(body[:n]) + "..."
}
