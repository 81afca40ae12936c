// optimizer-trigger queues optimizer work out of band: a manual run for one
// tenant, or the dispatch of a plan that an operator has approved.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"adpilot_backend/internal/optimizer/service"
	"adpilot_backend/internal/scheduler"
	"adpilot_backend/platform/config"
	"adpilot_backend/platform/logger"

	"github.com/google/uuid"
)

func main() {
	tenant := flag.String("tenant", "", "tenant id to run the optimizer for now")
	approve := flag.String("approve", "", "run key of an awaiting plan to dispatch")
	approvedBy := flag.String("by", "", "operator recorded with the approval")
	flag.Parse()

	if (*tenant == "") == (*approve == "") {
		fmt.Fprintln(os.Stderr, "exactly one of -tenant or -approve is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)

	client, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to create queue client", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	ctx := context.Background()

	if *tenant != "" {
		tenantID, err := uuid.Parse(*tenant)
		if err != nil {
			log.Error("invalid tenant id", "value", *tenant, "error", err)
			os.Exit(1)
		}

		payload := scheduler.TenantRunPayload{
			TenantID: tenantID.String(),
			Trigger:  service.TriggerManual,
		}
		if err := client.EnqueueTenantRun(ctx, payload); err != nil {
			log.Error("failed to enqueue tenant run", "tenant_id", tenantID, "error", err)
			os.Exit(1)
		}
		log.Info("manual run queued", "tenant_id", tenantID)
		return
	}

	payload := scheduler.PlanExecutePayload{
		RunKey:     *approve,
		ApprovedBy: *approvedBy,
	}
	if err := client.EnqueuePlanExecute(ctx, payload); err != nil {
		log.Error("failed to enqueue plan execution", "run_key", *approve, "error", err)
		os.Exit(1)
	}
	log.Info("plan execution queued", "run_key", *approve, "approved_by", *approvedBy)
}
