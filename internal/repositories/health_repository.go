package repositories

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	domain "github.com/hanko-field/cartengine/internal/domain"
)

const defaultProbeTimeout = 1500 * time.Millisecond

// Probe checks a single backing service such as Firestore or Redis.
type Probe struct {
	Name     string
	Timeout  time.Duration
	Optional bool
	Check    func(context.Context) error
}

type probeHealthRepository struct {
	probes []Probe
	now    func() time.Time
}

var _ HealthRepository = (*probeHealthRepository)(nil)

// NewProbeHealthRepository runs the given probes concurrently on each Collect call.
func NewProbeHealthRepository(probes []Probe, clock func() time.Time) (HealthRepository, error) {
	if len(probes) == 0 {
		return nil, errors.New("health repository: at least one probe is required")
	}
	for _, probe := range probes {
		if strings.TrimSpace(probe.Name) == "" || probe.Check == nil {
			return nil, errors.New("health repository: probe requires name and check")
		}
	}
	if clock == nil {
		clock = time.Now
	}
	return &probeHealthRepository{probes: append([]Probe(nil), probes...), now: clock}, nil
}

func (r *probeHealthRepository) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	results := make(map[string]domain.DependencyHealth, len(r.probes))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	for _, probe := range r.probes {
		wg.Add(1)
		go func(probe Probe) {
			defer wg.Done()
			result := r.run(ctx, probe)
			mu.Lock()
			results[probe.Name] = result
			mu.Unlock()
		}(probe)
	}
	wg.Wait()

	status := domain.HealthStatusOK
	for _, probe := range r.probes {
		switch results[probe.Name].Status {
		case domain.HealthStatusOK:
		case domain.HealthStatusError:
			if !probe.Optional {
				status = domain.HealthStatusError
				continue
			}
			if status == domain.HealthStatusOK {
				status = domain.HealthStatusDegraded
			}
		default:
			if status == domain.HealthStatusOK {
				status = domain.HealthStatusDegraded
			}
		}
	}

	return domain.SystemHealthReport{
		Status:      status,
		Checks:      results,
		GeneratedAt: r.now(),
	}, nil
}

func (r *probeHealthRepository) run(ctx context.Context, probe Probe) domain.DependencyHealth {
	timeout := probe.Timeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := r.now()
	err := probe.Check(checkCtx)
	end := r.now()

	result := domain.DependencyHealth{
		Status:    domain.HealthStatusOK,
		Detail:    "ok",
		Latency:   end.Sub(start),
		CheckedAt: end,
	}
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		result.Status = domain.HealthStatusError
		result.Detail = "timeout"
	default:
		result.Status = domain.HealthStatusError
		result.Detail = err.Error()
	}
	return result
}
