package crawl

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// casesFound tracks new cases discovered by the search stage.
	casesFound = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "courtcrawler_cases_found_total",
		Help: "Total number of new cases discovered, labeled by jurisdiction.",
	}, []string{"jurisdiction"})

	// casesDetailed tracks cases whose detail page was parsed.
	casesDetailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "courtcrawler_cases_detailed_total",
		Help: "Total number of cases detailed, labeled by jurisdiction.",
	}, []string{"jurisdiction"})

	// documentsDownloaded tracks documents persisted to the sink.
	documentsDownloaded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "courtcrawler_documents_downloaded_total",
		Help: "Total number of documents downloaded, labeled by jurisdiction.",
	}, []string{"jurisdiction"})

	// captchaSolves tracks oracle outcomes.
	captchaSolves = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "courtcrawler_captcha_solves_total",
		Help: "Total number of captcha solve attempts, labeled by outcome.",
	}, []string{"outcome"})

	// queriesAbandoned tracks queries dropped due to unrecoverable errors.
	queriesAbandoned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "courtcrawler_queries_abandoned_total",
		Help: "Total number of search queries abandoned, labeled by jurisdiction.",
	}, []string{"jurisdiction"})
)
