// Package doctor reports cross-field problems and risky settings in a loaded
// jobrelay configuration. config.Load already rejects malformed files; doctor covers
// what parses fine but will misbehave at runtime.
package doctor

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattjoyce/jobrelay/internal/config"
	"github.com/mattjoyce/jobrelay/internal/notify"
)

// recommendedFreshness is the replay window the chat platform documents.
const recommendedFreshness = 5 * time.Minute

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration.
type Doctor struct {
	cfg *config.Config
}

func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateStorage(r)
	d.validateDelivery(r)
	d.warnUnsignedIngress(r)
	d.warnUpstream(r)
	d.warnDedupe(r)
	d.warnTransitions(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateStorage keeps the record store and the spool apart.
func (d *Doctor) validateStorage(r *Result) {
	if d.cfg.Storage.Driver != "sqlite" {
		return
	}
	if filepath.Clean(d.cfg.Storage.Path) == filepath.Clean(d.cfg.Spool.Path) {
		d.addError(r, "storage", "spool.path", "spool.path must not be the same file as storage.path")
	}
}

// validateDelivery checks that configured notification targets can actually deliver.
func (d *Doctor) validateDelivery(r *Result) {
	slack := d.cfg.Slack
	if slack.NotifyChannel != "" && slack.BotToken == "" {
		d.addError(r, "notifications", "slack.bot_token",
			"slack.notify_channel is set but slack.bot_token is empty; every delivery would fail")
	}
	if slack.NotifyChannel == "" && d.cfg.Notifications.NATS.URL == "" {
		d.addWarning(r, "notifications", "notifications",
			"no slack.notify_channel or notifications.nats.url; notifications are only logged")
	}
	if slack.BotToken == "" {
		d.addWarning(r, "chat", "slack.bot_token", "bot token not set; app mentions will not be answered")
	}
}

func (d *Doctor) warnUnsignedIngress(r *Result) {
	if d.cfg.Jobber.WebhookSecret == "" {
		d.addWarning(r, "security", "jobber.webhook_secret",
			"FSM webhook signature verification is disabled")
	}
	if w := d.cfg.Slack.FreshnessWindow; w > recommendedFreshness {
		d.addWarning(r, "security", "slack.freshness_window",
			fmt.Sprintf("freshness window %s is longer than the recommended %s", w, recommendedFreshness))
	}
}

func (d *Doctor) warnUpstream(r *Result) {
	if d.cfg.Jobber.APIKey == "" {
		d.addWarning(r, "upstream", "jobber.api_key", "API key not set; FSM reconciles will fail")
	}
	if d.cfg.Jobber.RateLimit.MaxRequests == 0 {
		d.addWarning(r, "upstream", "jobber.rate_limit.max_requests", "upstream rate limiting is disabled")
	}
}

func (d *Doctor) warnDedupe(r *Result) {
	if d.cfg.Dedupe.RedisURL == "" {
		d.addWarning(r, "dedupe", "dedupe.redis_url",
			"in-process replay suppression does not survive restarts")
	}
}

// warnTransitions flags duplicate rules and kinds without a dedicated message layout.
func (d *Doctor) warnTransitions(r *Result) {
	known := map[string]bool{
		string(notify.KindClientCreated):  true,
		string(notify.KindJobCreated):     true,
		string(notify.KindJobCompleted):   true,
		string(notify.KindInvoiceCreated): true,
		string(notify.KindInvoicePaid):    true,
	}
	seen := make(map[string]bool)
	for i, tr := range d.cfg.Notifications.Transitions {
		field := fmt.Sprintf("notifications.transitions[%d]", i)
		key := strings.ToUpper(tr.EntityType) + "|" + tr.To + "|" + tr.Kind
		if seen[key] {
			d.addWarning(r, "notifications", field, "duplicate transition rule")
		}
		seen[key] = true
		if !known[tr.Kind] {
			d.addWarning(r, "notifications", field+".kind",
				fmt.Sprintf("kind %q has no dedicated layout and will be rendered generically", tr.Kind))
		}
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid {
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	} else {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		writeIssue(&b, "ERROR", e)
	}
	for _, w := range r.Warnings {
		writeIssue(&b, "WARN ", w)
	}
	return b.String()
}

func writeIssue(b *strings.Builder, label string, is Issue) {
	if is.Field != "" {
		fmt.Fprintf(b, "  %s [%s] %s: %s\n", label, is.Category, is.Field, is.Message)
		return
	}
	fmt.Fprintf(b, "  %s [%s] %s\n", label, is.Category, is.Message)
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
