package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"invoicer/internal/config"
	"invoicer/internal/logger"
)

const defaultWebhookTimeout = 5 * time.Second

// Webhook posts revalidated paths to the presentation layer's on-demand
// revalidation endpoints.
type Webhook struct {
	hooks  []config.WebhookConfig
	client *http.Client
	log    *logger.Logger
	now    func() time.Time
}

func NewWebhook(hooks []config.WebhookConfig, log *logger.Logger) *Webhook {
	if log == nil {
		log = logger.Nop()
	}
	return &Webhook{
		hooks:  hooks,
		client: &http.Client{Timeout: defaultWebhookTimeout},
		log:    log.With("service", "RevalidateWebhook"),
		now:    time.Now,
	}
}

type revalidateEvent struct {
	Path string `json:"path"`
	TS   string `json:"ts"`
}

func (w *Webhook) Revalidate(ctx context.Context, path string) {
	for _, hook := range w.hooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		if err := w.post(ctx, hook, path); err != nil {
			w.log.Warn("revalidate webhook failed", "url", hook.URL, "path", path, "error", err)
		}
	}
}

func (w *Webhook) post(ctx context.Context, hook config.WebhookConfig, path string) error {
	data, err := json.Marshal(revalidateEvent{Path: path, TS: w.now().UTC().Format(time.RFC3339)})
	if err != nil {
		return err
	}
	client := w.client
	if hook.TimeoutSeconds > 0 {
		client = &http.Client{Timeout: time.Duration(hook.TimeoutSeconds) * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Invoicer-Path", path)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Invoicer-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
