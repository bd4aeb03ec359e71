package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ParameterType selects the SSM storage type.
type ParameterType int

const (
	ParamSecureString ParameterType = iota
	ParamString
)

// BootstrapStep is one parameter the operator supplies.
type BootstrapStep struct {
	HumanLabel string

	// Key is the path below /{env}/llcstack/, e.g. "stripe/secret_key".
	Key string

	// EnvVar is the configuration variable the parameter resolves into at
	// startup through {EnvVar}_SSM_PARAM.
	EnvVar string

	ParamType  ParameterType
	Prompt     string
	ValidateFn func(ctx context.Context, input string) ValidationResult
	IsSecret   bool
	Optional   bool
}

const maxRetries = 5

var errSkipped = errors.New("parameter skipped by operator")

// BuildInventory lists the parameters the payment API reads from SSM.
func BuildInventory(v *Validator) []BootstrapStep {
	pricePattern := `^price_[0-9a-zA-Z]{8,}$`
	return []BootstrapStep{
		{
			HumanLabel: "Stripe Secret Key",
			Key:        "stripe/secret_key",
			EnvVar:     "STRIPE_SECRET_KEY",
			ParamType:  ParamSecureString,
			Prompt: `1. Go to Stripe Dashboard > Developers > API Keys.
   2. Copy the Secret Key (sk_...) or a restricted key (rk_...).
   3. Paste it here:`,
			ValidateFn: v.ValidateStripeKey,
			IsSecret:   true,
		},
		{
			HumanLabel: "Stripe Webhook Signing Secret",
			Key:        "stripe/webhook_secret",
			EnvVar:     "STRIPE_WEBHOOK_SECRET",
			ParamType:  ParamSecureString,
			Prompt: `1. Go to Stripe Dashboard > Developers > Webhooks.
   2. Add an endpoint for /webhooks/stripe listening to checkout.session.completed.
   3. Paste its signing secret (whsec_...):`,
			ValidateFn: func(ctx context.Context, input string) ValidationResult {
				return v.ValidateRegex(ctx, input, `^whsec_[0-9a-zA-Z]{16,}$`, "Webhook signing secret")
			},
			IsSecret: true,
		},
		{
			HumanLabel: "Registered Agent Yearly Price (optional)",
			Key:        "pricing/ra_yearly_price_id",
			EnvVar:     "RA_YEARLY_PRICE_ID",
			ParamType:  ParamString,
			Prompt:     `Paste the recurring yearly price ID for Registered Agent (price_...), or press Enter to skip:`,
			ValidateFn: func(ctx context.Context, input string) ValidationResult {
				return v.ValidateRegex(ctx, input, pricePattern, "Registered Agent price")
			},
			Optional: true,
		},
		{
			HumanLabel: "Mail Forwarding Monthly Price (optional)",
			Key:        "pricing/mail_monthly_price_id",
			EnvVar:     "MAIL_MONTHLY_PRICE_ID",
			ParamType:  ParamString,
			Prompt:     `Paste the recurring monthly price ID for Mail Forwarding (price_...), or press Enter to skip:`,
			ValidateFn: func(ctx context.Context, input string) ValidationResult {
				return v.ValidateRegex(ctx, input, pricePattern, "Mail Forwarding price")
			},
			Optional: true,
		},
		{
			HumanLabel: "Ledger Database URL (optional)",
			Key:        "database/url",
			EnvVar:     "DATABASE_URL",
			ParamType:  ParamSecureString,
			Prompt: `Without a database, duplicate webhook deliveries can create duplicate subscriptions.
   Paste the postgres://... connection string, or press Enter to skip:`,
			ValidateFn: v.ValidateDatabaseURL,
			IsSecret:   true,
			Optional:   true,
		},
		{
			HumanLabel: "Site URL",
			Key:        "site/url",
			EnvVar:     "NEXT_PUBLIC_SITE_URL",
			ParamType:  ParamString,
			Prompt:     `Paste the public site origin used for checkout redirects (https://...):`,
			ValidateFn: v.ValidateSiteURL,
		},
	}
}

// BootstrapRunner walks the inventory, prompting and writing each step.
type BootstrapRunner struct {
	SSM       *SSMManager
	Validator *Validator
	Stdin     io.Reader
	Stderr    io.Writer

	// SkipOptional auto-skips Optional steps without prompting.
	SkipOptional bool

	scanner *bufio.Scanner

	inventoryOverride []BootstrapStep
}

// NewBootstrapRunner creates a runner with production dependencies.
func NewBootstrapRunner(bctx *BootstrapContext, endpoint string) *BootstrapRunner {
	return &BootstrapRunner{
		SSM:       NewSSMManager(bctx, endpoint),
		Validator: NewValidator(),
		Stdin:     os.Stdin,
		Stderr:    os.Stderr,
	}
}

type stepResult struct {
	Label  string
	Action string // written, overwritten, kept, skipped
	Path   string
	EnvVar string
}

// Run processes every step and prints the environment pointers the API
// needs to resolve the stored values.
func (r *BootstrapRunner) Run(ctx context.Context) ([]stepResult, error) {
	inventory := r.inventoryOverride
	if inventory == nil {
		inventory = BuildInventory(r.Validator)
	}

	results := make([]stepResult, 0, len(inventory))
	for i, step := range inventory {
		fmt.Fprintf(r.Stderr, "\n[%d/%d] %s\n", i+1, len(inventory), step.HumanLabel)

		result, err := r.processStep(ctx, step)
		if err != nil {
			return results, fmt.Errorf("step %q failed: %w", step.HumanLabel, err)
		}
		results = append(results, result)
	}

	r.printSummary(results)
	return results, nil
}

func (r *BootstrapRunner) processStep(ctx context.Context, step BootstrapStep) (stepResult, error) {
	path := r.SSM.SSMPath(step.Key)
	result := stepResult{Label: step.HumanLabel, Path: path, EnvVar: step.EnvVar}

	if step.Optional && r.SkipOptional {
		fmt.Fprintf(r.Stderr, "  Skipped (--skip-optional)\n")
		result.Action = "skipped"
		return result, nil
	}

	exists, err := r.SSM.ParameterExists(ctx, path)
	if err != nil {
		return result, fmt.Errorf("checking existence of %s: %w", path, err)
	}
	if exists {
		fmt.Fprintf(r.Stderr, "  Parameter already exists: %s\n", path)
		choice, err := r.promptChoice("  [K]eep or [O]verwrite? ", map[string]string{
			"k": "keep", "keep": "keep", "o": "overwrite", "overwrite": "overwrite",
		})
		if err != nil {
			return result, fmt.Errorf("reading keep/overwrite choice: %w", err)
		}
		if choice == "keep" {
			fmt.Fprintf(r.Stderr, "  Kept.\n")
			result.Action = "kept"
			return result, nil
		}
	}

	value, err := r.promptAndValidate(ctx, step)
	if errors.Is(err, errSkipped) {
		fmt.Fprintf(r.Stderr, "  Skipped.\n")
		result.Action = "skipped"
		return result, nil
	}
	if err != nil {
		return result, err
	}

	if step.ParamType == ParamSecureString {
		err = r.SSM.PutSecret(ctx, path, value, exists)
	} else {
		err = r.SSM.PutString(ctx, path, value)
	}
	if err != nil {
		return result, fmt.Errorf("writing SSM parameter %s: %w", path, err)
	}

	result.Action = "written"
	if exists {
		result.Action = "overwritten"
	}
	fmt.Fprintf(r.Stderr, "  Stored: %s\n", path)
	return result, nil
}

// promptAndValidate reads a value, masking secrets, and retries validation
// failures up to maxRetries times. Empty input skips an optional step.
func (r *BootstrapRunner) promptAndValidate(ctx context.Context, step BootstrapStep) (string, error) {
	fmt.Fprintf(r.Stderr, "\n  %s\n\n", step.Prompt)

	for attempt := 1; attempt <= maxRetries; attempt++ {
		var input string
		var err error
		if step.IsSecret {
			input, err = r.readSecretInput("  > ")
		} else {
			input, err = r.readInput("  > ")
		}
		if err != nil {
			return "", fmt.Errorf("reading input for %s: %w", step.HumanLabel, err)
		}

		input = strings.TrimSpace(input)
		if input == "" {
			if step.Optional {
				return "", errSkipped
			}
			fmt.Fprintf(r.Stderr, "  A value is required.\n")
			continue
		}

		if step.IsSecret {
			fmt.Fprintf(r.Stderr, "  Received %d chars.\n", len(input))
		}

		if step.ValidateFn != nil {
			vr := step.ValidateFn(ctx, input)
			if !vr.Valid {
				fmt.Fprintf(r.Stderr, "  Validation failed: %s\n", vr.Message)
				if attempt < maxRetries {
					fmt.Fprintf(r.Stderr, "  Try again (%d/%d).\n", attempt, maxRetries)
				}
				continue
			}
			fmt.Fprintf(r.Stderr, "  Validated: %s\n", vr.Message)
		}
		return input, nil
	}

	return "", fmt.Errorf("maximum retries (%d) exceeded for %s", maxRetries, step.HumanLabel)
}

func (r *BootstrapRunner) scanLine() (string, error) {
	if r.scanner == nil {
		r.scanner = bufio.NewScanner(r.Stdin)
	}
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return r.scanner.Text(), nil
}

func (r *BootstrapRunner) readInput(prompt string) (string, error) {
	fmt.Fprint(r.Stderr, prompt)
	return r.scanLine()
}

// readSecretInput disables echo when stdin is a terminal and falls back to
// line reading for piped input.
func (r *BootstrapRunner) readSecretInput(prompt string) (string, error) {
	fmt.Fprint(r.Stderr, prompt)

	if f, ok := r.Stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		secret, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(r.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading secret input: %w", err)
		}
		return string(secret), nil
	}
	return r.scanLine()
}

// promptChoice repeats prompt until the answer is one of choices' keys.
func (r *BootstrapRunner) promptChoice(prompt string, choices map[string]string) (string, error) {
	for {
		fmt.Fprint(r.Stderr, prompt)
		line, err := r.scanLine()
		if err != nil {
			return "", err
		}
		if choice, ok := choices[strings.TrimSpace(strings.ToLower(line))]; ok {
			return choice, nil
		}
		fmt.Fprintf(r.Stderr, "  Unrecognized answer %q.\n", strings.TrimSpace(line))
	}
}

func (r *BootstrapRunner) printSummary(results []stepResult) {
	fmt.Fprintf(r.Stderr, "\n============================================================\n")
	fmt.Fprintf(r.Stderr, "  Bootstrap Summary\n")
	fmt.Fprintf(r.Stderr, "============================================================\n")
	for _, res := range results {
		fmt.Fprintf(r.Stderr, "  %-14s %s\n", "["+strings.ToUpper(res.Action)+"]", res.Label)
	}
	fmt.Fprintf(r.Stderr, "------------------------------------------------------------\n")
	fmt.Fprintf(r.Stderr, "  Add these to the function environment:\n\n")
	for _, line := range envPointers(results) {
		fmt.Fprintf(r.Stderr, "    %s\n", line)
	}
	fmt.Fprintf(r.Stderr, "\n")
}

// envPointers returns NAME_SSM_PARAM=path lines for every stored parameter.
func envPointers(results []stepResult) []string {
	var lines []string
	for _, res := range results {
		if res.Action == "skipped" {
			continue
		}
		lines = append(lines, res.EnvVar+"_SSM_PARAM="+res.Path)
	}
	return lines
}
