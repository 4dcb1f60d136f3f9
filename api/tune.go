package api

import (
	"context"
	"time"

	"github.com/rob9206/dynoai/ve"
	"github.com/rob9206/dynoai/ve/ecu"
	"github.com/rob9206/dynoai/ve/orchestrator"
	"github.com/rob9206/dynoai/ve/store"
)

// TuneOptions bundles everything a closed-loop tuning run needs.
type TuneOptions struct {
	Grid        *ve.Grid
	Engine      *ecu.Engine
	Sweep       []ecu.SweepPoint
	BaseVEFront *ve.Table
	BaseVERear  *ve.Table
	Config      ve.Config
}

// TuneResult is the final state of a closed-loop tuning session.
type TuneResult struct {
	SessionID    string
	FinalState   orchestrator.State
	FrontVE      *ve.Table
	RearVE       *ve.Table
	History      []orchestrator.IterationMetrics
	FailureCause error
}

// Tune runs a closed-loop tuning session to completion (or until ctx is
// cancelled) against reg, persisting nothing itself. st is not used and
// may be nil.
func Tune(ctx context.Context, reg *orchestrator.Registry, st *store.Store, opts TuneOptions) (*TuneResult, error) {
	session := reg.Create(time.Now())

	frontVE, rearVE, err := orchestrator.Run(ctx, session, orchestrator.RunOptions{
		Grid:        opts.Grid,
		Engine:      opts.Engine,
		Sweep:       opts.Sweep,
		BaseVEFront: opts.BaseVEFront,
		BaseVERear:  opts.BaseVERear,
		Config:      opts.Config,
	})

	result := &TuneResult{
		SessionID:    session.ID,
		FinalState:   session.State(),
		FrontVE:      frontVE,
		RearVE:       rearVE,
		History:      session.History(),
		FailureCause: session.Failure(),
	}
	return result, err
}
