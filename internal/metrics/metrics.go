package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters for the state transitions the control plane performs. All are
// served by the /metrics endpoint on the API.
var (
	CheckIns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camphq_checkins_total",
		Help: "Athlete check-ins by method.",
	}, []string{"method"})

	CheckOuts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camphq_checkouts_total",
		Help: "Athlete check-outs by verification method.",
	}, []string{"verification"})

	Absences = promauto.NewCounter(prometheus.CounterOpts{
		Name: "camphq_absences_total",
		Help: "Athletes marked absent.",
	})

	TokensIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "camphq_pickup_tokens_issued_total",
		Help: "Pickup tokens issued.",
	})

	TokenRedemptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camphq_pickup_token_redemptions_total",
		Help: "Pickup token redemption attempts by result.",
	}, []string{"result"})

	OffersIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "camphq_waitlist_offers_issued_total",
		Help: "Waitlist offers issued.",
	})

	OffersExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "camphq_waitlist_offers_expired_total",
		Help: "Waitlist offers expired by the sweep.",
	})

	OffersAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "camphq_waitlist_offers_accepted_total",
		Help: "Waitlist offers accepted.",
	})

	SweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camphq_sweep_runs_total",
		Help: "Expiry sweep invocations by kind.",
	}, []string{"kind"})
)
