package sokovan

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/lablup/sokovan/internal/sokovan/fairshare"
)

// FairShareRecalculator drives the periodic fair-share recalculation over a
// set of resource groups. A failing group is logged and does not stop the
// remaining groups.
type FairShareRecalculator struct {
	job *fairshare.RecalculationJob
}

func NewFairShareRecalculator(job *fairshare.RecalculationJob) *FairShareRecalculator {
	return &FairShareRecalculator{job: job}
}

func (r *FairShareRecalculator) Run(ctx context.Context, resourceGroups []string) error {
	for _, resourceGroup := range resourceGroups {
		upserted, err := r.job.RunForResourceGroup(ctx, resourceGroup)
		fairShareRecalculationsCounter.WithLabelValues(resourceGroup).Add(float64(upserted))
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			log.WithError(err).
				WithField("resourceGroup", resourceGroup).
				Error("Fair-share recalculation failed")
		}
	}
	return ctx.Err()
}
