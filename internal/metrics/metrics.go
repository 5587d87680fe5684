package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	PollCycles          prometheus.Counter
	MessagesPolled      prometheus.Counter
	MessagesPersisted   prometheus.Counter
	MessagesFailed      prometheus.Counter
	PollErrors          prometheus.Counter
	Relocations         *prometheus.CounterVec
	RelocationTimeouts  prometheus.Counter
	CycleDuration       prometheus.Histogram
	AttachmentsStored   prometheus.Counter
	Classifications     *prometheus.CounterVec
	AssignmentErrors    prometheus.Counter
	AssignmentConflicts prometheus.Counter
	AssignmentDuration  prometheus.Histogram
	Subscribers         prometheus.Gauge
	EventsPublished     prometheus.Counter
	SubscribersDropped  prometheus.Counter
}

// NewMetrics registers the pipeline metrics with reg.
// A nil reg uses the default Prometheus registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		PollCycles: factory.NewCounter(prometheus.CounterOpts{
			Name: "calentian_mail_poll_cycles_total",
			Help: "Total number of mailbox poll cycles",
		}),
		MessagesPolled: factory.NewCounter(prometheus.CounterOpts{
			Name: "calentian_mail_messages_polled_total",
			Help: "Total number of messages selected from the mailbox",
		}),
		MessagesPersisted: factory.NewCounter(prometheus.CounterOpts{
			Name: "calentian_mail_messages_persisted_total",
			Help: "Total number of messages stored in the database",
		}),
		MessagesFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "calentian_mail_messages_failed_total",
			Help: "Total number of messages that could not be ingested",
		}),
		PollErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "calentian_mail_poll_errors_total",
			Help: "Total number of mailbox open or search failures",
		}),
		Relocations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "calentian_mail_relocations_total",
			Help: "Total number of messages moved out of the inbox",
		}, []string{"folder"}),
		RelocationTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "calentian_mail_relocation_timeouts_total",
			Help: "Total number of moves that did not finish within the move timeout",
		}),
		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "calentian_mail_poll_cycle_duration_seconds",
			Help:    "Time spent in one mailbox poll cycle",
			Buckets: prometheus.DefBuckets,
		}),
		AttachmentsStored: factory.NewCounter(prometheus.CounterOpts{
			Name: "calentian_mail_attachments_stored_total",
			Help: "Total number of attachment files written",
		}),
		Classifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "calentian_mail_classifications_total",
			Help: "Total number of messages classified, by resulting status",
		}, []string{"status"}),
		AssignmentErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "calentian_mail_assignment_errors_total",
			Help: "Total number of messages left unclassified after an error",
		}),
		AssignmentConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "calentian_mail_assignment_conflicts_total",
			Help: "Total number of status writes skipped because the row was already classified",
		}),
		AssignmentDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "calentian_mail_assignment_pass_duration_seconds",
			Help:    "Time spent in one assignment pass",
			Buckets: prometheus.DefBuckets,
		}),
		Subscribers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "calentian_mail_status_subscribers",
			Help: "Number of connected status subscribers",
		}),
		EventsPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "calentian_mail_status_events_published_total",
			Help: "Total number of status change events published",
		}),
		SubscribersDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "calentian_mail_status_subscribers_dropped_total",
			Help: "Total number of subscribers dropped for falling behind",
		}),
	}
}
