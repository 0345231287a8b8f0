package partition

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/raft"
)

// Run follows the leadership of the partition until ctx is done. When this
// node becomes the leader it waits until every committed batch is applied,
// resumes the pending commands and starts firing due timers.
func (p *Partition) Run(ctx context.Context) error {
	if !p.open.Load() {
		return ErrNotOpen
	}
	defer p.stepDown()
	for {
		select {
		case <-ctx.Done():
			return nil
		case o := <-p.observerChan:
			signal, ok := o.Data.(raft.LeaderObservation)
			if !ok {
				continue
			}
			if signal.LeaderID == raft.ServerID(p.cfg.NodeId) {
				p.stepUp(ctx)
			} else {
				p.stepDown()
			}
		}
	}
}

func (p *Partition) stepUp(ctx context.Context) {
	p.leaderMu.Lock()
	defer p.leaderMu.Unlock()
	if p.cancelLeader != nil {
		return
	}
	leaderCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancelLeader = cancel
	p.leaderDone = done
	go func() {
		defer close(done)
		if err := p.raft.Barrier(barrierTimeout).Error(); err != nil {
			p.logger.Error(fmt.Sprintf("failed to apply committed batches before leading: %s", err))
			return
		}
		p.leader.Store(true)
		p.logger.Info(fmt.Sprintf("node %s leads the partition", p.cfg.NodeId))
		if err := p.engine.Promote(leaderCtx); err != nil {
			p.logger.Error(fmt.Sprintf("failed to resume pending commands: %s", err))
		}
		p.fireTimers(leaderCtx)
	}()
}

func (p *Partition) stepDown() {
	p.leaderMu.Lock()
	defer p.leaderMu.Unlock()
	p.leader.Store(false)
	if p.cancelLeader == nil {
		return
	}
	p.cancelLeader()
	<-p.leaderDone
	p.cancelLeader = nil
	p.leaderDone = nil
	p.logger.Info(fmt.Sprintf("node %s follows the partition", p.cfg.NodeId))
}

func (p *Partition) fireTimers(ctx context.Context) {
	ticker := time.NewTicker(p.timerInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fired, err := p.engine.TriggerDueTimers(ctx)
			if err != nil {
				p.logger.Error(fmt.Sprintf("failed to trigger due timers: %s", err))
				continue
			}
			if fired > 0 {
				p.logger.Debug(fmt.Sprintf("triggered %d due timers", fired))
			}
		}
	}
}
