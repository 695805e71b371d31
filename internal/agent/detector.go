package agent

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"marketguard-backend/internal/models"
)

// Detector reports anomalies for the agent to work on. An empty result
// means nothing was found.
type Detector interface {
	Detect(ctx context.Context) []models.Finding
}

var simulatedAnomalies = []string{
	"Checksum mismatch in catalog cache",
	"Stale session tokens detected in session store",
	"Unexpected outbound connection from worker pool",
	"Order ledger replica lagging behind primary",
	"Configuration drift on edge proxy",
	"Dependency advisory published for payment client",
}

// CoinFlipDetector finds between one and three simulated anomalies with
// the given probability per call.
type CoinFlipDetector struct {
	probability float64

	mu  sync.Mutex
	rng *rand.Rand
}

func NewCoinFlipDetector(probability float64, seed int64) *CoinFlipDetector {
	return &CoinFlipDetector{
		probability: probability,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

func (d *CoinFlipDetector) Detect(ctx context.Context) []models.Finding {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.rng.Float64() >= d.probability {
		return nil
	}

	n := 1 + d.rng.Intn(3)
	now := time.Now().UTC()
	findings := make([]models.Finding, 0, n)
	for _, i := range d.rng.Perm(len(simulatedAnomalies))[:n] {
		findings = append(findings, models.Finding{
			ID:         uuid.New().String(),
			Message:    simulatedAnomalies[i],
			ObservedAt: now,
		})
	}
	return findings
}
