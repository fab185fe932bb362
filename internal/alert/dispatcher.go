package alert

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/alexeiveselov92/detectkit/internal/alert/channels"
	"github.com/alexeiveselov92/detectkit/internal/config"
)

const defaultTemplateSingle = `[{{.MetricName}}] anomaly at {{.Timestamp}}: value={{.Value}} bounds=[{{.ConfidenceLower}}, {{.ConfidenceUpper}}] direction={{.Direction}} severity={{.Severity}} detector={{.DetectorName}}`

const defaultTemplateConsecutive = `[{{.MetricName}}] anomaly confirmed ({{.ConsecutiveCount}} consecutive) at {{.Timestamp}}: value={{.Value}} bounds=[{{.ConfidenceLower}}, {{.ConfidenceUpper}}] direction={{.Direction}} severity={{.Severity}} detector={{.DetectorName}}`

const defaultTemplateNoData = `[{{.MetricName}}] no data received for the last {{.ConsecutiveCount}} intervals as of {{.Timestamp}}`

// Dispatcher renders and delivers alert events through a metric's
// configured channels (C9, spec.md §4.9).
type Dispatcher struct {
	channels map[string]channels.Channel
}

// NewDispatcher builds one Channel per declared alert_channels entry.
func NewDispatcher(channelCfgs map[string]config.AlertChannelConfig) (*Dispatcher, error) {
	built := make(map[string]channels.Channel, len(channelCfgs))
	for name, cc := range channelCfgs {
		ch, err := channels.Build(cc)
		if err != nil {
			return nil, fmt.Errorf("alert: channel %q: %w", name, err)
		}
		built[name] = ch
	}
	return &Dispatcher{channels: built}, nil
}

// Dispatch renders event through policy's templates and delivers it to
// every channel in channelNames, synchronously and independently. It
// returns each channel's outcome; a failure never undoes the cooldown
// update the evaluator already recorded (§7).
func (d *Dispatcher) Dispatch(ctx context.Context, event Event, policy config.AlertingConfig, channelNames []string) map[string]error {
	results := make(map[string]error, len(channelNames))

	message, err := render(event, policy)
	if err != nil {
		for _, name := range channelNames {
			results[name] = err
		}
		return results
	}

	for _, name := range channelNames {
		ch, ok := d.channels[name]
		if !ok {
			results[name] = fmt.Errorf("alert: channel %q is not configured", name)
			continue
		}
		if err := ch.Send(ctx, message); err != nil {
			log.Printf("[%s] alert channel %q delivery failed: %v", event.MetricName, name, err)
			results[name] = err
			continue
		}
		results[name] = nil
	}
	return results
}

// DispatchSynthetic exercises the configured channels with no real
// detection behind the alert. A non-empty message is delivered verbatim
// to each named channel; an empty message instead renders a synthetic
// Event (metric name and current time only) through Dispatch. It backs
// a test-alert CLI verb.
func (d *Dispatcher) DispatchSynthetic(ctx context.Context, metricName, message string, policy config.AlertingConfig, channelNames []string) map[string]error {
	event := Event{
		MetricName:       metricName,
		Timestamp:        time.Now().UTC(),
		DetectorNames:    []string{"synthetic"},
		DetectorCount:    1,
		ConsecutiveCount: 1,
		Timezone:         policy.Timezone,
	}
	if message == "" {
		return d.Dispatch(ctx, event, policy, channelNames)
	}

	results := make(map[string]error, len(channelNames))
	for _, name := range channelNames {
		ch, ok := d.channels[name]
		if !ok {
			results[name] = fmt.Errorf("alert: channel %q is not configured", name)
			continue
		}
		if err := ch.Send(ctx, message); err != nil {
			log.Printf("[%s] synthetic alert channel %q delivery failed: %v", metricName, name, err)
			results[name] = err
			continue
		}
		results[name] = nil
	}
	return results
}

type templateData struct {
	MetricName       string
	Timestamp        string
	Value            string
	ConfidenceLower  string
	ConfidenceUpper  string
	Direction        string
	Severity         string
	DetectorName     string
	ConsecutiveCount int
}

func render(event Event, policy config.AlertingConfig) (string, error) {
	text := templateTextFor(event, policy)

	tmpl, err := template.New("alert").Parse(text)
	if err != nil {
		return "", fmt.Errorf("alert: parse template: %w", err)
	}

	var buf strings.Builder
	if err := tmpl.Execute(&buf, dataFor(event, policy)); err != nil {
		return "", fmt.Errorf("alert: render template: %w", err)
	}
	return buf.String(), nil
}

func templateTextFor(event Event, policy config.AlertingConfig) string {
	if event.NoData {
		return defaultTemplateNoData
	}
	if event.IsFirstInSequence() {
		if policy.TemplateSingle != "" {
			return policy.TemplateSingle
		}
		return defaultTemplateSingle
	}
	if policy.TemplateConsecutive != "" {
		return policy.TemplateConsecutive
	}
	return defaultTemplateConsecutive
}

func dataFor(event Event, policy config.AlertingConfig) templateData {
	loc, err := time.LoadLocation(policy.Timezone)
	if err != nil || loc == nil {
		loc = time.UTC
	}
	return templateData{
		MetricName:       event.MetricName,
		Timestamp:        event.Timestamp.In(loc).Format("2006-01-02 15:04:05 MST"),
		Value:            formatFloatPtr(event.Value),
		ConfidenceLower:  formatFloatPtr(event.ConfidenceLower),
		ConfidenceUpper:  formatFloatPtr(event.ConfidenceUpper),
		Direction:        string(event.Direction),
		Severity:         strconv.FormatFloat(event.Severity, 'f', 3, 64),
		DetectorName:     event.DetectorLabel(),
		ConsecutiveCount: event.ConsecutiveCount,
	}
}

func formatFloatPtr(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return strconv.FormatFloat(*v, 'f', 3, 64)
}
