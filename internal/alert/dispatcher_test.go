package alert

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alexeiveselov92/detectkit/internal/alert/channels"
	"github.com/alexeiveselov92/detectkit/internal/config"
	"github.com/alexeiveselov92/detectkit/internal/model"
)

type recordingChannel struct {
	sent []string
	fail bool
}

func (c *recordingChannel) Send(ctx context.Context, message string) error {
	if c.fail {
		return fmt.Errorf("boom")
	}
	c.sent = append(c.sent, message)
	return nil
}

func newDispatcherWithChannels(chans map[string]channels.Channel) *Dispatcher {
	return &Dispatcher{channels: chans}
}

func sampleEvent() Event {
	return Event{
		MetricName:       "reqs",
		Timestamp:        time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		Value:            f(123.4),
		ConfidenceLower:  f(0),
		ConfidenceUpper:  f(100),
		Direction:        model.DirectionAbove,
		Severity:         2.5,
		DetectorNames:    []string{"MADDetector"},
		ConsecutiveCount: 3,
	}
}

func TestDispatchRendersAndDelivers(t *testing.T) {
	ch := &recordingChannel{}
	d := newDispatcherWithChannels(map[string]channels.Channel{"primary": ch})

	results := d.Dispatch(context.Background(), sampleEvent(), config.AlertingConfig{}, []string{"primary"})
	if err := results["primary"]; err != nil {
		t.Fatalf("Dispatch result = %v, want nil", err)
	}
	if len(ch.sent) != 1 {
		t.Fatalf("channel received %d messages, want 1", len(ch.sent))
	}
	msg := ch.sent[0]
	if !strings.Contains(msg, "reqs") || !strings.Contains(msg, "MADDetector") {
		t.Errorf("rendered message missing expected content: %q", msg)
	}
}

func TestDispatchReportsUnconfiguredChannel(t *testing.T) {
	d := newDispatcherWithChannels(map[string]channels.Channel{})
	results := d.Dispatch(context.Background(), sampleEvent(), config.AlertingConfig{}, []string{"missing"})
	if results["missing"] == nil {
		t.Fatalf("Dispatch result = nil, want error for unconfigured channel")
	}
}

func TestDispatchChannelFailureIsIsolated(t *testing.T) {
	ok := &recordingChannel{}
	bad := &recordingChannel{fail: true}
	d := newDispatcherWithChannels(map[string]channels.Channel{"ok": ok, "bad": bad})

	results := d.Dispatch(context.Background(), sampleEvent(), config.AlertingConfig{}, []string{"ok", "bad"})
	if results["ok"] != nil {
		t.Errorf("ok channel result = %v, want nil", results["ok"])
	}
	if results["bad"] == nil {
		t.Errorf("bad channel result = nil, want error")
	}
	if len(ok.sent) != 1 {
		t.Errorf("ok channel received %d messages, want 1", len(ok.sent))
	}
}

func TestRenderUsesSingleTemplateForFirstAnomaly(t *testing.T) {
	event := sampleEvent()
	event.ConsecutiveCount = 1
	msg, err := render(event, config.AlertingConfig{})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if strings.Contains(msg, "consecutive") {
		t.Errorf("single-anomaly message unexpectedly used the consecutive template: %q", msg)
	}
}

func TestRenderUsesConsecutiveTemplateForConfirmedRun(t *testing.T) {
	msg, err := render(sampleEvent(), config.AlertingConfig{})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(msg, "confirmed") {
		t.Errorf("consecutive-run message did not use the consecutive template: %q", msg)
	}
}

func TestRenderNoDataUsesNoDataTemplate(t *testing.T) {
	event := Event{MetricName: "reqs", Timestamp: time.Now().UTC(), NoData: true, ConsecutiveCount: 5}
	msg, err := render(event, config.AlertingConfig{})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(msg, "no data") {
		t.Errorf("no-data message did not use the no-data template: %q", msg)
	}
}

func TestDispatchSyntheticDeliversRawMessage(t *testing.T) {
	ch := &recordingChannel{}
	d := newDispatcherWithChannels(map[string]channels.Channel{"primary": ch})

	results := d.DispatchSynthetic(context.Background(), "reqs", "test alert: channel is reachable", config.AlertingConfig{}, []string{"primary"})
	if err := results["primary"]; err != nil {
		t.Fatalf("DispatchSynthetic result = %v, want nil", err)
	}
	if len(ch.sent) != 1 || ch.sent[0] != "test alert: channel is reachable" {
		t.Fatalf("channel received %v, want the raw message delivered verbatim", ch.sent)
	}
}

func TestDispatchSyntheticWithoutMessageRendersTemplate(t *testing.T) {
	ch := &recordingChannel{}
	d := newDispatcherWithChannels(map[string]channels.Channel{"primary": ch})

	results := d.DispatchSynthetic(context.Background(), "reqs", "", config.AlertingConfig{}, []string{"primary"})
	if err := results["primary"]; err != nil {
		t.Fatalf("DispatchSynthetic result = %v, want nil", err)
	}
	if len(ch.sent) != 1 || !strings.Contains(ch.sent[0], "reqs") {
		t.Fatalf("channel received %v, want a rendered message mentioning the metric", ch.sent)
	}
}

func TestRenderHonorsCustomTemplate(t *testing.T) {
	policy := config.AlertingConfig{TemplateSingle: "CUSTOM: {{.MetricName}}"}
	event := sampleEvent()
	event.ConsecutiveCount = 1
	msg, err := render(event, policy)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if msg != "CUSTOM: reqs" {
		t.Errorf("render = %q, want CUSTOM: reqs", msg)
	}
}
