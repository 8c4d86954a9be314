package sokovan

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"

	"github.com/lablup/sokovan/internal/common"
	"github.com/lablup/sokovan/internal/common/app"
	"github.com/lablup/sokovan/internal/sokovan/configuration"
	"github.com/lablup/sokovan/internal/sokovan/database"
	"github.com/lablup/sokovan/internal/sokovan/fairshare"
	"github.com/lablup/sokovan/internal/sokovan/queue"
	"github.com/lablup/sokovan/internal/sokovan/schedulerobjects"
)

const (
	defaultSchedulePeriod             = 10 * time.Second
	defaultFairShareRecalculatePeriod = 5 * time.Minute
)

// Run assembles the scheduling service and runs it until a SIGTERM is
// received: a scheduling loop ticking over the configured scaling groups
// and a fair-share recalculation loop over the resource groups.
func Run(config configuration.SokovanConfig) error {
	g, ctx := errgroup.WithContext(app.CreateContextWithShutdown())

	shutdownMetrics := common.ServeMetrics(config.MetricsPort)
	defer shutdownMetrics()

	db, err := database.OpenPgxPool(config.Postgres)
	if err != nil {
		return errors.WithMessage(err, "opening connection to postgres")
	}
	defer db.Close()

	fairShareRepo := database.NewPostgresFairShareRepository(db, config.FairShare)
	usageRepo := database.NewPostgresUsageRepository(db)
	agentRepo := database.NewPostgresAgentRepository(db)
	workloadRepo := database.NewPostgresWorkloadRepository(db)
	roundRobinRepo := database.NewPostgresRoundRobinRepository(db)

	factors := &latestFactors{}
	sequencer := sequencerFor(config.Scheduling.DefaultSequencer, factors)
	scheduler := NewScheduler(
		agentRepo, workloadRepo, roundRobinRepo, workloadRepo,
		sequencer, config.Scheduling, nil)

	calculator := fairshare.NewCalculator(resourceWeightSlot(config.FairShare.ResourceWeights))
	recalculator := NewFairShareRecalculator(
		fairshare.NewRecalculationJob(fairShareRepo, usageRepo, fairShareRepo, calculator, nil))

	resourceGroups := config.ResourceGroups
	if len(resourceGroups) == 0 {
		resourceGroups = config.ScalingGroups
	}

	schedulePeriod := config.SchedulePeriod
	if schedulePeriod <= 0 {
		schedulePeriod = defaultSchedulePeriod
	}
	recalculatePeriod := config.FairShareRecalculatePeriod
	if recalculatePeriod <= 0 {
		recalculatePeriod = defaultFairShareRecalculatePeriod
	}

	log.WithField("scalingGroups", config.ScalingGroups).
		WithField("sequencer", sequencer.Name()).
		WithField("strategy", config.Scheduling.DefaultAgentSelectionStrategy).
		Info("Starting scheduling service")

	g.Go(func() error {
		ticker := time.NewTicker(schedulePeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				runSchedulingTick(ctx, config.ScalingGroups, scheduler, sequencer,
					factors, fairShareRepo, workloadRepo, agentRepo)
			}
		}
	})
	g.Go(func() error {
		ticker := time.NewTicker(recalculatePeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if err := recalculator.Run(ctx, resourceGroups); err != nil {
					return err
				}
			}
		}
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runSchedulingTick(
	ctx context.Context,
	scalingGroups []string,
	scheduler *Scheduler,
	sequencer queue.Sequencer,
	factors *latestFactors,
	fairShareRepo *database.PostgresFairShareRepository,
	workloadRepo *database.PostgresWorkloadRepository,
	agentRepo *database.PostgresAgentRepository,
) {
	for _, scalingGroup := range scalingGroups {
		if ctx.Err() != nil {
			return
		}
		if sequencer.Name() == "fairshare" {
			view, err := fairShareRepo.LoadFactors(ctx, scalingGroup)
			if err != nil {
				log.WithError(err).
					WithField("scalingGroup", scalingGroup).
					Error("Failed to load fair-share factors; keeping previous view")
			} else {
				factors.set(view)
			}
		}
		result, err := scheduler.ScheduleScalingGroup(ctx, scalingGroup)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).
				WithField("scalingGroup", scalingGroup).
				Error("Scheduling tick failed")
			continue
		}
		persistTickResult(ctx, result, workloadRepo, agentRepo)
	}
}

// persistTickResult writes the tick's outcomes back: kernel-to-agent
// bindings for scheduled sessions, occupancy for the agents they landed on,
// and failure states for the rest. A persistence error on one session is
// logged and does not block the others.
func persistTickResult(
	ctx context.Context,
	result *TickResult,
	workloadRepo *database.PostgresWorkloadRepository,
	agentRepo *database.PostgresAgentRepository,
) {
	touched := map[schedulerobjects.AgentID]*schedulerobjects.AgentInfo{}
	for _, allocation := range result.Allocations {
		if err := workloadRepo.MarkScheduled(ctx, allocation.SessionID, allocation.Selections); err != nil {
			log.WithError(err).
				WithField("sessionId", allocation.SessionID).
				Error("Failed to persist session allocation")
			continue
		}
		for _, selection := range allocation.Selections {
			touched[selection.Agent.ID] = selection.Agent
		}
	}

	touchedIDs := make([]schedulerobjects.AgentID, 0, len(touched))
	for id := range touched {
		touchedIDs = append(touchedIDs, id)
	}
	slices.Sort(touchedIDs)
	for _, id := range touchedIDs {
		if err := agentRepo.UpdateOccupancy(ctx, touched[id]); err != nil {
			log.WithError(err).
				WithField("agentId", id).
				Error("Failed to persist agent occupancy")
		}
	}

	for _, failure := range result.Failures {
		if err := workloadRepo.MarkFailed(ctx, failure.SessionID, failure.Reason.Error(), failure.Retryable); err != nil {
			log.WithError(err).
				WithField("sessionId", failure.SessionID).
				Error("Failed to persist scheduling failure")
		}
	}
}

func sequencerFor(name string, factors queue.FactorSource) queue.Sequencer {
	switch name {
	case "lifo":
		return queue.NewLIFOSequencer()
	case "fairshare":
		return queue.NewFairShareSequencer(factors)
	default:
		return queue.NewFIFOSequencer()
	}
}

// latestFactors serves the most recently loaded factor view to the
// fair-share sequencer. Before the first load every factor reads as 1.
type latestFactors struct {
	mu   sync.RWMutex
	view *database.FactorView
}

func (f *latestFactors) set(view *database.FactorView) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.view = view
}

func (f *latestFactors) DomainFactor(domainName string) decimal.Decimal {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.view == nil {
		return decimal.NewFromInt(1)
	}
	return f.view.DomainFactor(domainName)
}

func (f *latestFactors) ProjectFactor(projectID uuid.UUID) decimal.Decimal {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.view == nil {
		return decimal.NewFromInt(1)
	}
	return f.view.ProjectFactor(projectID)
}

func (f *latestFactors) UserFactor(userUUID, projectID uuid.UUID) decimal.Decimal {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.view == nil {
		return decimal.NewFromInt(1)
	}
	return f.view.UserFactor(userUUID, projectID)
}

func resourceWeightSlot(weights map[string]float64) schedulerobjects.ResourceSlot {
	if len(weights) == 0 {
		return nil
	}
	slot := make(schedulerobjects.ResourceSlot, len(weights))
	for resource, weight := range weights {
		slot[resource] = decimal.NewFromFloat(weight)
	}
	return slot
}
