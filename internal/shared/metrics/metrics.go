package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BidsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bidengine_bids_accepted_total",
		Help: "Accepted bids, proxy-triggered counter-bids included.",
	})

	BidsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bidengine_bids_rejected_total",
		Help: "Rejected bids by reason.",
	}, []string{"reason"})

	ProxyBids = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bidengine_proxy_bids_total",
		Help: "Counter-bids placed by the auto-bid resolver.",
	})

	AuctionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bidengine_auctions_closed_total",
		Help: "Closed auctions by outcome (won / no_winner).",
	}, []string{"outcome"})

	AuctionsCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bidengine_auctions_cancelled_total",
		Help: "Cancelled auctions.",
	})

	DuplicateRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bidengine_duplicate_requests_total",
		Help: "PlaceBid retries answered from the dedup cache.",
	})
)
