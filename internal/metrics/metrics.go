package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/voicedesk/voicedesk/internal/database/models"
	"github.com/voicedesk/voicedesk/internal/telephony"
	"github.com/voicedesk/voicedesk/internal/ticketing"
	"github.com/voicedesk/voicedesk/internal/voice"
)

// TelephonyProvider exposes the telephony session snapshot.
type TelephonyProvider interface {
	GetStatus() telephony.Status
}

// TicketingProvider exposes the ticketing session snapshot.
type TicketingProvider interface {
	GetStatus() ticketing.Status
}

// VoiceProvider exposes the speech session snapshot.
type VoiceProvider interface {
	GetStatus() voice.Status
}

// CallAggregator summarizes the call-log table.
type CallAggregator interface {
	Aggregates(ctx context.Context) (models.CallAggregates, error)
}

// Collector is a prometheus.Collector that gathers dashboard metrics at
// scrape time. Any provider may be nil if unavailable.
type Collector struct {
	telephony TelephonyProvider
	ticketing TicketingProvider
	voice     VoiceProvider
	calls     CallAggregator
	startTime time.Time

	telephonyUpDesc  *prometheus.Desc
	ticketingUpDesc  *prometheus.Desc
	speechUpDesc     *prometheus.Desc
	activeCallsDesc  *prometheus.Desc
	accuracyDesc     *prometheus.Desc
	callsTotalDesc   *prometheus.Desc
	ticketsTotalDesc *prometheus.Desc
	audioTotalDesc   *prometheus.Desc
	uptimeDesc       *prometheus.Desc
}

// NewCollector creates a metrics collector over the three services and
// the call-log aggregates.
func NewCollector(
	tel TelephonyProvider,
	tick TicketingProvider,
	speech VoiceProvider,
	calls CallAggregator,
	startTime time.Time,
) *Collector {
	return &Collector{
		telephony: tel,
		ticketing: tick,
		voice:     speech,
		calls:     calls,
		startTime: startTime,

		telephonyUpDesc: prometheus.NewDesc(
			"voicedesk_telephony_up",
			"Whether the telephony session is connected (1) or not (0)",
			nil, nil,
		),
		ticketingUpDesc: prometheus.NewDesc(
			"voicedesk_ticketing_up",
			"Whether the 1C ticketing session is connected (1) or not (0)",
			nil, nil,
		),
		speechUpDesc: prometheus.NewDesc(
			"voicedesk_speech_up",
			"Whether both speech engines are ready (1) or not (0)",
			nil, nil,
		),
		activeCallsDesc: prometheus.NewDesc(
			"voicedesk_active_calls",
			"Number of currently active calls",
			nil, nil,
		),
		accuracyDesc: prometheus.NewDesc(
			"voicedesk_recognition_accuracy",
			"Current speech recognition accuracy estimate",
			nil, nil,
		),
		callsTotalDesc: prometheus.NewDesc(
			"voicedesk_calls_total",
			"Total number of logged calls",
			nil, nil,
		),
		ticketsTotalDesc: prometheus.NewDesc(
			"voicedesk_tickets_created_total",
			"Tickets created through the gateway this session",
			nil, nil,
		),
		audioTotalDesc: prometheus.NewDesc(
			"voicedesk_audio_processed_total",
			"Audio files processed by the recognition engine",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"voicedesk_uptime_seconds",
			"Seconds since the process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.telephonyUpDesc
	ch <- c.ticketingUpDesc
	ch <- c.speechUpDesc
	ch <- c.activeCallsDesc
	ch <- c.accuracyDesc
	ch <- c.callsTotalDesc
	ch <- c.ticketsTotalDesc
	ch <- c.audioTotalDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at
// scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.telephony != nil {
		status := c.telephony.GetStatus()
		ch <- prometheus.MustNewConstMetric(
			c.telephonyUpDesc, prometheus.GaugeValue, boolValue(status.Connected),
		)
		ch <- prometheus.MustNewConstMetric(
			c.activeCallsDesc, prometheus.GaugeValue, float64(status.ActiveCalls),
		)
	}

	if c.ticketing != nil {
		status := c.ticketing.GetStatus()
		ch <- prometheus.MustNewConstMetric(
			c.ticketingUpDesc, prometheus.GaugeValue, boolValue(status.Connected),
		)
		ch <- prometheus.MustNewConstMetric(
			c.ticketsTotalDesc, prometheus.CounterValue, float64(status.TotalTickets),
		)
	}

	if c.voice != nil {
		status := c.voice.GetStatus()
		ch <- prometheus.MustNewConstMetric(
			c.speechUpDesc, prometheus.GaugeValue, boolValue(status.TTSReady && status.STTReady),
		)
		ch <- prometheus.MustNewConstMetric(
			c.accuracyDesc, prometheus.GaugeValue, status.Accuracy,
		)
		ch <- prometheus.MustNewConstMetric(
			c.audioTotalDesc, prometheus.CounterValue, float64(status.ProcessedAudio),
		)
	}

	if c.calls != nil {
		agg, err := c.calls.Aggregates(ctx)
		if err != nil {
			slog.Error("metrics: failed to read call aggregates", "error", err)
		} else {
			ch <- prometheus.MustNewConstMetric(
				c.callsTotalDesc, prometheus.CounterValue, float64(agg.TotalCalls),
			)
		}
	}

	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue, time.Since(c.startTime).Seconds(),
	)
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
