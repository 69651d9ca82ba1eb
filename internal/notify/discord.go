package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/JakeFAU/gradewatch/internal/grades"
)

const (
	embedTitle = "Nouvelle note !"
	embedColor = 48770
	onlyTerm   = "Le seul disponible"
)

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type discordEmbed struct {
	Title     string         `json:"title"`
	Color     int            `json:"color"`
	Fields    []discordField `json:"fields"`
	Timestamp string         `json:"timestamp,omitempty"`
}

type discordMessage struct {
	Content string         `json:"content,omitempty"`
	Embeds  []discordEmbed `json:"embeds"`
}

// Discord posts an embed to the instance's webhook URL (Notification.Target).
type Discord struct {
	client *http.Client
}

var _ grades.NotificationSink = (*Discord)(nil)

// NewDiscord returns a Discord sink. The client should not be the portal
// client: webhook calls must not count against the portal rate limit.
func NewDiscord(client *http.Client) *Discord {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Discord{client: client}
}

// Notify implements grades.NotificationSink.
func (d *Discord) Notify(ctx context.Context, n grades.Notification) error {
	if n.Target == "" {
		return fmt.Errorf("discord: instance %s has no webhook", n.Instance)
	}
	body, err := json.Marshal(buildMessage(n))
	if err != nil {
		return fmt.Errorf("discord: encode message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.Target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: post webhook: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("discord: webhook returned status %d: %s", resp.StatusCode, excerpt)
	}
	return nil
}

func buildMessage(n grades.Notification) discordMessage {
	ev := n.Evaluation
	term := onlyTerm
	if n.Resource.Term != nil {
		term = strconv.Itoa(*n.Resource.Term)
	}
	embed := discordEmbed{
		Title: embedTitle,
		Color: embedColor,
		Fields: []discordField{
			{Name: "Description", Value: orDash(ev.Description)},
			{Name: "Semestre", Value: term},
			{Name: "Ressource", Value: n.ResourceCode + " - " + n.Resource.Title},
			{Name: "Coef", Value: orDash(ev.Coef), Inline: true},
			{Name: "Note Max", Value: orDash(ev.Grade.Max), Inline: true},
			{Name: "Note Min", Value: orDash(ev.Grade.Min), Inline: true},
			{Name: "Moyenne", Value: orDash(ev.Grade.Mean), Inline: true},
			{Name: "Affectations UE", Value: orDash(n.Affectation)},
		},
	}
	if !n.DetectedAt.IsZero() {
		embed.Timestamp = n.DetectedAt.UTC().Format(time.RFC3339)
	}
	return discordMessage{Content: n.PingPrefix, Embeds: []discordEmbed{embed}}
}

// Discord rejects embeds with empty field values.
func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
