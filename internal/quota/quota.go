package quota

import (
	"syscall"
	"time"

	"serenade/internal/cache"

	"github.com/sirupsen/logrus"
)

// Usage is a best-effort estimate of device storage. A zero Quota means the
// platform could not report one; callers must treat that as "no guardrail",
// not as "no space".
type Usage struct {
	Used  uint64 `json:"used"`
	Quota uint64 `json:"quota"`
}

// Available returns the remaining headroom in bytes.
func (u Usage) Available() uint64 {
	if u.Quota <= u.Used {
		return 0
	}
	return u.Quota - u.Used
}

// Percentage returns how much of the quota is in use (0-100).
func (u Usage) Percentage() float64 {
	if u.Quota == 0 {
		return 0
	}
	return float64(u.Used) / float64(u.Quota) * 100
}

// Unlimited reports whether no quota could be determined.
func (u Usage) Unlimited() bool {
	return u.Quota == 0
}

// Estimator reports device storage usage
type Estimator interface {
	Estimate() (Usage, error)
}

// DiskEstimator estimates usage of the filesystem holding the library
// database. Failures degrade to an unlimited (zero) estimate rather than
// blocking uploads.
type DiskEstimator struct {
	path   string
	logger *logrus.Logger
}

// NewDiskEstimator creates an estimator for the filesystem containing path
func NewDiskEstimator(path string) *DiskEstimator {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	return &DiskEstimator{
		path:   path,
		logger: logger,
	}
}

// Estimate queries the filesystem for total and available bytes
func (e *DiskEstimator) Estimate() (Usage, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(e.path, &st); err != nil {
		e.logger.WithError(err).WithField("path", e.path).Warn("Storage estimate unavailable, treating as unlimited")
		return Usage{}, nil
	}

	total := st.Blocks * uint64(st.Bsize)
	free := st.Bavail * uint64(st.Bsize)
	if free > total {
		free = total
	}

	return Usage{
		Used:  total - free,
		Quota: total,
	}, nil
}

// CachedEstimator memoizes estimates for a short TTL so that rapid upload
// attempts do not hammer the filesystem.
type CachedEstimator struct {
	inner Estimator
	cache *cache.Memory[Usage]
}

// NewCachedEstimator wraps an estimator with a TTL cache
func NewCachedEstimator(inner Estimator, ttl time.Duration) *CachedEstimator {
	return &CachedEstimator{
		inner: inner,
		cache: cache.NewMemory[Usage](ttl),
	}
}

// Estimate returns the cached estimate, refreshing it when expired
func (c *CachedEstimator) Estimate() (Usage, error) {
	if usage, ok := c.cache.Get("estimate"); ok {
		return usage, nil
	}

	usage, err := c.inner.Estimate()
	if err != nil {
		return usage, err
	}

	c.cache.Set("estimate", usage)
	return usage, nil
}
