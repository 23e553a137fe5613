// Package notify pushes entitlement changes to devices through Firebase
// Cloud Messaging.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	firebase "firebase.google.com/go"
	"firebase.google.com/go/messaging"
	"google.golang.org/api/option"

	"iapkeeper/internal/store"
)

type Config struct {
	CredentialsFile string   `yaml:"credentials_file" env:"FCM_CREDENTIALS_FILE"`
	Topic           string   `yaml:"topic" env:"FCM_TOPIC"`
	Tokens          []string `yaml:"tokens" env:"FCM_TOKENS" envSeparator:","`
}

// Enabled reports whether cfg names anyone to notify.
func (c Config) Enabled() bool {
	return c.CredentialsFile != "" && (c.Topic != "" || len(c.Tokens) > 0)
}

// Sender is the subset of *messaging.Client used here.
type Sender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// NewClient opens a messaging client from a service account file.
func NewClient(ctx context.Context, credentialsFile string) (*messaging.Client, error) {
	if strings.TrimSpace(credentialsFile) == "" {
		return nil, errors.New("notify: credentials file is empty")
	}
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("firebase.NewApp: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase messaging: %w", err)
	}
	return client, nil
}

// FCM forwards store events to a topic and a fixed set of device tokens.
type FCM struct {
	sender Sender
	topic  string
	tokens []string
	logger Logger
}

func NewFCM(sender Sender, cfg Config, logger Logger) *FCM {
	return &FCM{
		sender: sender,
		topic:  strings.TrimSpace(cfg.Topic),
		tokens: append([]string(nil), cfg.Tokens...),
		logger: logger,
	}
}

// Run sends every event until events is closed or ctx ends.
func (f *FCM) Run(ctx context.Context, events <-chan store.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			f.Notify(ctx, ev)
		}
	}
}

// Notify sends ev to every target. Failures are logged per target.
func (f *FCM) Notify(ctx context.Context, ev store.Event) int {
	title, body, data := render(ev)
	if data == nil {
		return 0
	}
	sent := 0
	if f.topic != "" {
		if f.send(ctx, message(title, body, data, "", f.topic)) {
			sent++
		}
	}
	for _, token := range f.tokens {
		if f.send(ctx, message(title, body, data, token, "")) {
			sent++
		}
	}
	return sent
}

func (f *FCM) send(ctx context.Context, m *messaging.Message) bool {
	id, err := f.sender.Send(ctx, m)
	if err != nil {
		f.logger.Errorf("notify: send %s: %v", m.Data["event"], err)
		return false
	}
	f.logger.Infof("notify: sent %s as %s", m.Data["event"], id)
	return true
}

func render(ev store.Event) (string, string, map[string]string) {
	switch e := ev.(type) {
	case store.EntitlementsChanged:
		return "Purchases updated",
			fmt.Sprintf("%d active items", len(e.ProductIDs)),
			map[string]string{
				"event":    e.Name(),
				"id":       e.ID.String(),
				"products": strings.Join(e.ProductIDs, ","),
				"at":       e.At.UTC().Format(time.RFC3339),
			}
	case store.AvailabilityChanged:
		return "", "", map[string]string{
			"event": e.Name(),
			"id":    e.ID.String(),
			"state": string(e.State),
			"at":    e.At.UTC().Format(time.RFC3339),
		}
	}
	return "", "", nil
}

func message(title, body string, data map[string]string, token, topic string) *messaging.Message {
	m := &messaging.Message{
		Token: token,
		Topic: topic,
		Data:  data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{
				"apns-priority": "5",
			},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{ContentAvailable: true},
			},
		},
	}
	if title != "" {
		m.Notification = &messaging.Notification{Title: title, Body: body}
		m.Android.Notification = &messaging.AndroidNotification{ChannelID: "purchases"}
		m.APNS.Headers["apns-priority"] = "10"
		m.APNS.Payload.Aps.Alert = &messaging.ApsAlert{Title: title, Body: body}
		m.APNS.Payload.Aps.Sound = "default"
	}
	return m
}
