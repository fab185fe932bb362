package config

import "testing"

func TestMetricConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     MetricConfig
		wantErr bool
	}{
		{
			name: "valid minimal",
			cfg: MetricConfig{
				Name:     "cpu_usage",
				Query:    "SELECT 1",
				Interval: "10min",
			},
			wantErr: false,
		},
		{
			name: "empty name",
			cfg: MetricConfig{
				Query:    "SELECT 1",
				Interval: "10min",
			},
			wantErr: true,
		},
		{
			name: "invalid characters in name",
			cfg: MetricConfig{
				Name:     "cpu usage!",
				Query:    "SELECT 1",
				Interval: "10min",
			},
			wantErr: true,
		},
		{
			name: "missing query source",
			cfg: MetricConfig{
				Name:     "cpu_usage",
				Interval: "10min",
			},
			wantErr: true,
		},
		{
			name: "both query sources",
			cfg: MetricConfig{
				Name:      "cpu_usage",
				Query:     "SELECT 1",
				QueryFile: "q.sql",
				Interval:  "10min",
			},
			wantErr: true,
		},
		{
			name: "invalid interval",
			cfg: MetricConfig{
				Name:     "cpu_usage",
				Query:    "SELECT 1",
				Interval: "garbage",
			},
			wantErr: true,
		},
		{
			name: "duplicate seasonality column",
			cfg: MetricConfig{
				Name:     "cpu_usage",
				Query:    "SELECT 1",
				Interval: "10min",
				SeasonalityColumns: []SeasonalityColumnDecl{
					{Name: "hour"}, {Name: "hour"},
				},
			},
			wantErr: true,
		},
		{
			name: "invalid seasonality column",
			cfg: MetricConfig{
				Name:     "cpu_usage",
				Query:    "SELECT 1",
				Interval: "10min",
				SeasonalityColumns: []SeasonalityColumnDecl{
					{Name: "bogus"},
				},
			},
			wantErr: true,
		},
		{
			name: "manual_bounds missing both bounds",
			cfg: MetricConfig{
				Name:     "cpu_usage",
				Query:    "SELECT 1",
				Interval: "10min",
				Detectors: []DetectorConfig{
					{Type: DetectorManualBounds, Params: map[string]any{}},
				},
			},
			wantErr: true,
		},
		{
			name: "manual_bounds lower >= upper",
			cfg: MetricConfig{
				Name:     "cpu_usage",
				Query:    "SELECT 1",
				Interval: "10min",
				Detectors: []DetectorConfig{
					{Type: DetectorManualBounds, Params: map[string]any{
						"lower_bound": 10.0, "upper_bound": 5.0,
					}},
				},
			},
			wantErr: true,
		},
		{
			name: "unknown detector type",
			cfg: MetricConfig{
				Name:     "cpu_usage",
				Query:    "SELECT 1",
				Interval: "10min",
				Detectors: []DetectorConfig{
					{Type: "prophet"},
				},
			},
			wantErr: true,
		},
		{
			name: "batch size too large",
			cfg: MetricConfig{
				Name:             "cpu_usage",
				Query:            "SELECT 1",
				Interval:         "10min",
				LoadingBatchSize: 2_000_000,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr && err == nil {
				t.Fatalf("Validate() = nil, want error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("Validate() = %v, want nil", err)
			}
		})
	}
}

func TestAlertingConfigWithDefaults(t *testing.T) {
	a := AlertingConfig{}.WithDefaults()
	if a.MinDetectors != 1 {
		t.Errorf("MinDetectors = %d, want 1", a.MinDetectors)
	}
	if a.Direction != DirectionSame {
		t.Errorf("Direction = %q, want %q", a.Direction, DirectionSame)
	}
	if a.ConsecutiveAnomalies != 3 {
		t.Errorf("ConsecutiveAnomalies = %d, want 3", a.ConsecutiveAnomalies)
	}
	if a.Timezone != "UTC" {
		t.Errorf("Timezone = %q, want UTC", a.Timezone)
	}
}
