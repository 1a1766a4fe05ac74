package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mattjoyce/jobrelay/internal/dispatch"
	"github.com/mattjoyce/jobrelay/internal/envelope"
	"github.com/mattjoyce/jobrelay/internal/slack"
	"github.com/mattjoyce/jobrelay/internal/storage"
)

const (
	listLimit = 5
	usage     = "Available commands: /jobber clients, /jobber jobs, /jobber invoices"
)

func (h *Handlers) message(ctx context.Context, ev *envelope.Event) (*dispatch.Reply, error) {
	p := ev.Payload
	subtype := envelope.String(p, "subtype")
	if envelope.String(p, "bot_id") != "" || subtype == "bot_message" {
		return nil, nil
	}

	channel := envelope.String(p, "channel")
	ts := envelope.String(p, "ts")
	if channel == "" || ts == "" {
		return nil, errors.New("message without channel or ts")
	}
	if err := h.ensureChannel(ctx, ev.TeamOrAccountID, channel); err != nil {
		return nil, err
	}

	if subtype == "" {
		subtype = "message"
	}
	_, err := h.store.Upsert(ctx, storage.EntityMessage, channel+":"+ts, storage.Fields{
		"channel_external_id": channel,
		"user_external_id":    envelope.String(p, "user"),
		"ts":                  ts,
		"text":                optional(envelope.String(p, "text")),
		"message_type":        subtype,
		"thread_ts":           optional(envelope.String(p, "thread_ts")),
	})
	return nil, err
}

func (h *Handlers) appMention(ctx context.Context, ev *envelope.Event) (*dispatch.Reply, error) {
	channel := envelope.String(ev.Payload, "channel")
	if channel == "" {
		return nil, errors.New("app_mention without channel")
	}
	thread := envelope.String(ev.Payload, "thread_ts")
	if thread == "" {
		thread = envelope.String(ev.Payload, "ts")
	}

	text, err := h.statusSummary(ctx)
	if err != nil {
		return nil, err
	}
	if h.poster == nil {
		h.logger.Info("chat poster not configured, mention reply skipped", "channel", channel)
		return nil, nil
	}
	if _, err := h.poster.PostMessage(ctx, slack.Message{Channel: channel, Text: text, ThreadTS: thread}); err != nil {
		h.logger.Warn("mention reply failed", "channel", channel, "error", err)
	}
	return nil, nil
}

func (h *Handlers) statusSummary(ctx context.Context) (string, error) {
	clients, err := h.store.Count(ctx, storage.EntityClient, storage.ListOptions{ActiveOnly: true})
	if err != nil {
		return "", err
	}
	jobs, err := h.store.Count(ctx, storage.EntityJob, storage.ListOptions{})
	if err != nil {
		return "", err
	}
	invoices, err := h.store.Count(ctx, storage.EntityInvoice, storage.ListOptions{})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Jobber relay is up: %d active clients, %d jobs, %d invoices.", clients, jobs, invoices), nil
}

func (h *Handlers) channelCreated(ctx context.Context, ev *envelope.Event) (*dispatch.Reply, error) {
	ch := envelope.Object(ev.Payload, "channel")
	id := envelope.String(ch, "id")
	if id == "" {
		return nil, errors.New("channel_created without channel id")
	}
	fields := storage.Fields{
		"team_external_id": ev.TeamOrAccountID,
		"name":             optional(envelope.String(ch, "name")),
		"is_private":       flag(ch, "is_private"),
		"is_archived":      false,
	}
	if err := h.ensureTeam(ctx, ev.TeamOrAccountID); err != nil {
		return nil, err
	}
	_, err := h.store.Upsert(ctx, storage.EntityChannel, id, fields)
	return nil, err
}

func (h *Handlers) channelRename(ctx context.Context, ev *envelope.Event) (*dispatch.Reply, error) {
	ch := envelope.Object(ev.Payload, "channel")
	id := envelope.String(ch, "id")
	if id == "" {
		return nil, errors.New("channel_rename without channel id")
	}
	_, err := h.store.Upsert(ctx, storage.EntityChannel, id, storage.Fields{
		"name": optional(envelope.String(ch, "name")),
	})
	return nil, err
}

func (h *Handlers) channelArchive(ctx context.Context, ev *envelope.Event) (*dispatch.Reply, error) {
	id := envelope.String(ev.Payload, "channel")
	if id == "" {
		return nil, errors.New("channel_archive without channel")
	}
	_, err := h.store.Upsert(ctx, storage.EntityChannel, id, storage.Fields{"is_archived": true})
	return nil, err
}

func (h *Handlers) teamJoin(ctx context.Context, ev *envelope.Event) (*dispatch.Reply, error) {
	u := envelope.Object(ev.Payload, "user")
	id := envelope.String(u, "id")
	if id == "" {
		return nil, errors.New("team_join without user id")
	}
	team := envelope.String(u, "team_id")
	if team == "" {
		team = ev.TeamOrAccountID
	}
	if err := h.ensureTeam(ctx, team); err != nil {
		return nil, err
	}

	profile := envelope.Object(u, "profile")
	realName := envelope.String(u, "real_name")
	if realName == "" {
		realName = envelope.String(profile, "real_name")
	}
	_, err := h.store.Upsert(ctx, storage.EntityUser, id, storage.Fields{
		"team_external_id": team,
		"username":         optional(envelope.String(u, "name")),
		"real_name":        optional(realName),
		"email":            optional(envelope.String(profile, "email")),
		"is_bot":           flag(u, "is_bot"),
		"is_admin":         flag(u, "is_admin"),
	})
	return nil, err
}

// teamRevoked soft-deactivates the workspace after uninstall or token revocation.
func (h *Handlers) teamRevoked(ctx context.Context, ev *envelope.Event) (*dispatch.Reply, error) {
	if ev.TeamOrAccountID == "" {
		return nil, fmt.Errorf("%s without team id", ev.Kind)
	}
	err := h.store.Deactivate(ctx, storage.EntityTeam, ev.TeamOrAccountID)
	if errors.Is(err, storage.ErrNotFound) {
		h.logger.Info("deactivation for unknown team ignored", "team", ev.TeamOrAccountID)
		return nil, nil
	}
	if err == nil {
		h.logger.Info("team deactivated", "team", ev.TeamOrAccountID, "reason", ev.Kind)
	}
	return nil, err
}

func (h *Handlers) blockActions(ctx context.Context, ev *envelope.Event) (*dispatch.Reply, error) {
	actions, _ := ev.Payload["actions"].([]any)
	for _, a := range actions {
		action, _ := a.(map[string]any)
		actionID := envelope.String(action, "action_id")
		et, ok := viewActions[actionID]
		if !ok {
			h.logger.Info("block action ignored", "action_id", actionID)
			continue
		}
		return h.recordSummary(ctx, et, envelope.String(action, "value"))
	}
	return nil, nil
}

var viewActions = map[string]storage.EntityType{
	"jobber_view_client":  storage.EntityClient,
	"jobber_view_job":     storage.EntityJob,
	"jobber_view_invoice": storage.EntityInvoice,
}

func (h *Handlers) recordSummary(ctx context.Context, et storage.EntityType, id string) (*dispatch.Reply, error) {
	label := strings.ToLower(string(et))
	if id == "" {
		return ephemeral(fmt.Sprintf("No %s selected", label)), nil
	}
	rec, err := h.store.Get(ctx, et, id)
	if errors.Is(err, storage.ErrNotFound) {
		return ephemeral(fmt.Sprintf("No local %s record for %s", label, id)), nil
	}
	if err != nil {
		return nil, err
	}

	var lines []string
	switch et {
	case storage.EntityClient:
		lines = []string{
			fmt.Sprintf("*%s* (%s)", clientName(rec), rec.ExternalID),
			"Email: " + orDash(rec.Text("email")),
			"Phone: " + orDash(rec.Text("phone")),
			"Active: " + yesNo(rec.Bool("is_active")),
		}
	case storage.EntityJob:
		lines = []string{
			fmt.Sprintf("*%s* (%s)", orDefault(rec.Text("title"), "Untitled Job"), rec.ExternalID),
			"Status: " + orDash(rec.Text("status")),
			"Total: " + total(rec),
		}
	case storage.EntityInvoice:
		lines = []string{
			fmt.Sprintf("*Invoice #%s* (%s)", orDash(rec.Text("invoice_number")), rec.ExternalID),
			"Status: " + orDash(rec.Text("status")),
			"Total: " + total(rec),
		}
	}
	return ephemeral(strings.Join(lines, "\n")), nil
}

func (h *Handlers) acknowledge(_ context.Context, ev *envelope.Event) (*dispatch.Reply, error) {
	h.logger.Info("interaction acknowledged",
		"kind", ev.Kind,
		"team", ev.TeamOrAccountID,
		"callback_id", envelope.String(ev.Payload, "callback_id"),
	)
	return nil, nil
}

func (h *Handlers) slashJobber(ctx context.Context, ev *envelope.Event) (*dispatch.Reply, error) {
	args := strings.Fields(envelope.String(ev.Payload, "text"))
	if len(args) == 0 || args[0] == "help" {
		return ephemeral(usage), nil
	}

	switch args[0] {
	case "clients":
		recs, err := h.store.List(ctx, storage.EntityClient, storage.ListOptions{ActiveOnly: true, Limit: listLimit})
		if err != nil {
			return nil, err
		}
		return listing(recs, "No active clients found", "Recent clients:", func(r storage.Record) string {
			return clientName(r)
		}), nil
	case "jobs":
		recs, err := h.store.List(ctx, storage.EntityJob, storage.ListOptions{Limit: listLimit})
		if err != nil {
			return nil, err
		}
		return listing(recs, "No jobs found", "Recent jobs:", func(r storage.Record) string {
			return orDefault(r.Text("title"), "Untitled Job") + " - " + orDash(r.Text("status"))
		}), nil
	case "invoices":
		recs, err := h.store.List(ctx, storage.EntityInvoice, storage.ListOptions{Limit: listLimit})
		if err != nil {
			return nil, err
		}
		return listing(recs, "No invoices found", "Recent invoices:", func(r storage.Record) string {
			return orDash(r.Text("invoice_number")) + " - " + orDash(r.Text("status")) + " - " + total(r)
		}), nil
	default:
		return ephemeral("Unknown command: " + args[0]), nil
	}
}

func (h *Handlers) ensureTeam(ctx context.Context, team string) error {
	if team == "" {
		return nil
	}
	_, err := h.store.Upsert(ctx, storage.EntityTeam, team, storage.Fields{})
	return err
}

func (h *Handlers) ensureChannel(ctx context.Context, team, channel string) error {
	if err := h.ensureTeam(ctx, team); err != nil {
		return err
	}
	fields := storage.Fields{}
	if team != "" {
		fields["team_external_id"] = team
	}
	_, err := h.store.Upsert(ctx, storage.EntityChannel, channel, fields)
	return err
}

func listing(recs []storage.Record, empty, heading string, line func(storage.Record) string) *dispatch.Reply {
	if len(recs) == 0 {
		return ephemeral(empty)
	}
	var b strings.Builder
	b.WriteString(heading)
	b.WriteString("\n")
	for _, r := range recs {
		b.WriteString("• ")
		b.WriteString(line(r))
		b.WriteString("\n")
	}
	return ephemeral(b.String())
}

func ephemeral(text string) *dispatch.Reply {
	return &dispatch.Reply{Text: text, ResponseType: "ephemeral"}
}

func clientName(r storage.Record) string {
	if name := r.Text("company_name"); name != "" {
		return name
	}
	name := strings.TrimSpace(r.Text("first_name") + " " + r.Text("last_name"))
	return orDefault(name, r.ExternalID)
}

func total(r storage.Record) string {
	amount := r.Text("total_amount")
	if amount == "" {
		return "-"
	}
	if cur := r.Text("currency"); cur != "" && cur != "USD" {
		return amount + " " + cur
	}
	return "$" + amount
}

// optional maps "" to NULL.
func optional(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func flag(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func orDash(s string) string { return orDefault(s, "-") }

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
