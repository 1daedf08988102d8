package cache

import (
	"fmt"
	"time"

	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	ecsmetrics "github.com/fluxcd/ecsdeploy/pkg/metrics"
)

const labelResult = "result"

var (
	cacheRequestDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "ecsdeploy",
		Subsystem: "registry_cache",
		Name:      "request_duration_seconds",
		Help:      "Duration of cache requests, in seconds.",
		Buckets:   stdprometheus.DefBuckets,
	}, []string{ecsmetrics.LabelMethod, ecsmetrics.LabelSuccess})
	cacheLookups = prometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Namespace: "ecsdeploy",
		Subsystem: "registry_cache",
		Name:      "lookups_total",
		Help:      "Count of cache lookups, by whether the key was found.",
	}, []string{labelResult})
)

type instrumentedClient struct {
	next Client
}

// InstrumentClient records how long each request to the cache takes,
// and how often lookups miss.
func InstrumentClient(c Client) Client {
	return &instrumentedClient{
		next: c,
	}
}

func (i *instrumentedClient) observe(method string, begin time.Time, err error) {
	cacheRequestDuration.With(
		ecsmetrics.LabelMethod, method,
		ecsmetrics.LabelSuccess, fmt.Sprint(err == nil || err == ErrNotCached),
	).Observe(time.Since(begin).Seconds())
}

func (i *instrumentedClient) GetKey(k Keyer) (v []byte, deadline time.Time, err error) {
	defer func(begin time.Time) {
		i.observe("GetKey", begin, err)
		result := "hit"
		if err != nil {
			result = "miss"
		}
		cacheLookups.With(labelResult, result).Add(1)
	}(time.Now())
	return i.next.GetKey(k)
}

func (i *instrumentedClient) SetKey(k Keyer, d time.Time, v []byte) (err error) {
	defer func(begin time.Time) { i.observe("SetKey", begin, err) }(time.Now())
	return i.next.SetKey(k, d, v)
}
