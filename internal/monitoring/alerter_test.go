package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/list-enricher/internal/config"
)

func thresholds() config.MonitoringConfig {
	return config.MonitoringConfig{
		FailureRateThreshold: 0.10,
		BacklogThreshold:     500,
		CostThresholdUSD:     20,
	}
}

func TestAlerter_Evaluate(t *testing.T) {
	tests := []struct {
		name string
		snap MetricsSnapshot
		want []AlertType
	}{
		{
			name: "healthy",
			snap: MetricsSnapshot{
				EnrichmentPending: 40, EnrichmentCompleted: 95, EnrichmentFailed: 5, EnrichmentFailRate: 0.05,
				ExecutionsTotal: 30, ExecutionsFailed: 1, ExecutionFailureRate: 1.0 / 30,
				ExtractionCostUSD: 3,
			},
		},
		{
			name: "enrichment failures",
			snap: MetricsSnapshot{EnrichmentCompleted: 12, EnrichmentFailed: 8, EnrichmentFailRate: 0.4},
			want: []AlertType{AlertEnrichmentFailureRate},
		},
		{
			name: "too few outcomes to judge",
			snap: MetricsSnapshot{EnrichmentCompleted: 1, EnrichmentFailed: 2, EnrichmentFailRate: 0.666},
		},
		{
			name: "execution failures ignore skipped",
			snap: MetricsSnapshot{ExecutionsTotal: 10, ExecutionsSkipped: 6, ExecutionsFailed: 3, ExecutionFailureRate: 0.75},
		},
		{
			name: "execution failures",
			snap: MetricsSnapshot{ExecutionsTotal: 10, ExecutionsFailed: 5, ExecutionFailureRate: 0.5},
			want: []AlertType{AlertExecutionFailureRate},
		},
		{
			name: "backlog",
			snap: MetricsSnapshot{EnrichmentPending: 501},
			want: []AlertType{AlertEnrichmentBacklog},
		},
		{
			name: "cost overrun",
			snap: MetricsSnapshot{ExtractionRuns: 40, ExtractionCostUSD: 25.5},
			want: []AlertType{AlertCostOverrun},
		},
		{
			name: "everything",
			snap: MetricsSnapshot{
				EnrichmentPending: 900, EnrichmentCompleted: 10, EnrichmentFailed: 10, EnrichmentFailRate: 0.5,
				ExecutionsTotal: 20, ExecutionsFailed: 10, ExecutionFailureRate: 0.5,
				ExtractionCostUSD: 100,
			},
			want: []AlertType{AlertEnrichmentFailureRate, AlertExecutionFailureRate, AlertEnrichmentBacklog, AlertCostOverrun},
		},
	}

	a := NewAlerter(thresholds())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.snap.LookbackHours = 24
			alerts := a.Evaluate(&tt.snap)

			var got []AlertType
			for _, al := range alerts {
				got = append(got, al.Type)
				assert.NotEmpty(t, al.Message)
				assert.False(t, al.Timestamp.IsZero())
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAlerter_Evaluate_Messages(t *testing.T) {
	a := NewAlerter(thresholds())
	alerts := a.Evaluate(&MetricsSnapshot{
		EnrichmentCompleted: 12, EnrichmentFailed: 8, EnrichmentFailRate: 0.4,
		ExtractionCostUSD: 25.5,
		LookbackHours:     6,
	})
	require.Len(t, alerts, 2)
	assert.Contains(t, alerts[0].Message, "40.0%")
	assert.Contains(t, alerts[0].Message, "last 6h")
	assert.Contains(t, alerts[1].Message, "$25.50")
}

func TestAlerter_Evaluate_DisabledThresholds(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 1})
	alerts := a.Evaluate(&MetricsSnapshot{
		EnrichmentPending: 1_000_000,
		ExtractionCostUSD: 999,
	})
	assert.Empty(t, alerts)
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&alert)) {
			return
		}
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertEnrichmentBacklog, Severity: "medium", Message: "backlog"},
		{Type: AlertCostOverrun, Severity: "high", Message: "cost"},
	})
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_Skipped(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	assert.Zero(t, a.SendAlerts(context.Background(), []Alert{{Type: AlertCostOverrun}}))

	a = NewAlerter(config.MonitoringConfig{WebhookURL: "http://example.com"})
	assert.Zero(t, a.SendAlerts(context.Background(), nil))
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertCostOverrun, Message: "cost"}})
	assert.Zero(t, sent)
}
