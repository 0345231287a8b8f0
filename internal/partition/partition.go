package partition

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/pbinitiative/zenexec/internal/config"
	"github.com/pbinitiative/zenexec/pkg/bpmn"
	"github.com/pbinitiative/zenexec/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenexec/pkg/storage"
	"github.com/pbinitiative/zenexec/pkg/storage/inmemory"
)

const (
	observerChanLen     = 100
	connectionPoolCount = 5
	connectionTimeout   = 10 * time.Second
	leaderWaitDelay     = 100 * time.Millisecond
	barrierTimeout      = 30 * time.Second
)

// Partition replicates the record batches of one engine with raft. The
// leader processes commands and appends every batch to the raft log,
// followers apply the committed batches to their own state.
type Partition struct {
	cfg           config.Partition
	timerInterval time.Duration

	open   *atomic.Bool
	leader *atomic.Bool
	// last position appended by this node while it was the leader
	written *atomic.Int64

	state  *inmemory.State
	engine *bpmn.Engine

	raft      *raft.Raft
	transport raft.Transport
	closers   []func() error
	logger    hclog.Logger

	observer     *raft.Observer
	observerChan chan raft.Observation

	leaderMu     sync.Mutex
	cancelLeader context.CancelFunc
	leaderDone   chan struct{}
}

var _ bpmn.LogStream = &Partition{}

type Option func(p *Partition)

// WithTransport replaces the TCP transport, tests use raft.NewInmemTransport.
func WithTransport(transport raft.Transport) Option {
	return func(p *Partition) {
		p.transport = transport
	}
}

// WithTimerInterval sets how often the leader fires due timers.
func WithTimerInterval(interval time.Duration) Option {
	return func(p *Partition) {
		p.timerInterval = interval
	}
}

// New creates a closed partition running an engine configured by engineOptions.
// The engine writes its batches to the partition.
func New(cfg config.Partition, options []Option, engineOptions ...bpmn.EngineOption) (*Partition, error) {
	p := &Partition{
		cfg:           cfg,
		timerInterval: time.Second,
		open:          &atomic.Bool{},
		leader:        &atomic.Bool{},
		written:       &atomic.Int64{},
		state:         inmemory.NewState(),
		logger:        hclog.Default().Named("partition"),
	}
	for _, option := range options {
		option(p)
	}
	engineOptions = append(engineOptions, bpmn.WithState(p.state), bpmn.WithLogStream(p))
	engine, err := bpmn.NewEngine(engineOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	p.engine = engine
	return p, nil
}

func (p *Partition) Engine() *bpmn.Engine {
	return p.engine
}

func (p *Partition) NodeID() string {
	return p.cfg.NodeId
}

// Open configures raft and its storage. With an empty RaftDir the log,
// stable store and snapshots are kept in memory.
func (p *Partition) Open() (retErr error) {
	if p.open.Load() {
		return ErrAlreadyOpen
	}
	defer func() {
		if retErr == nil {
			p.open.Store(true)
		}
	}()
	p.logger.Info(fmt.Sprintf("opening partition with node ID %s", p.cfg.NodeId))

	cfg := raft.DefaultConfig()
	cfg.LocalID = raft.ServerID(p.cfg.NodeId)
	cfg.Logger = p.logger.Named("raft")
	if p.cfg.SnapshotThreshold > 0 {
		cfg.SnapshotThreshold = p.cfg.SnapshotThreshold
	}

	if p.transport == nil {
		transport, err := raft.NewTCPTransportWithLogger(p.cfg.RaftAddr, nil, connectionPoolCount, connectionTimeout, p.logger.Named("transport"))
		if err != nil {
			return fmt.Errorf("failed to create raft transport on %s: %w", p.cfg.RaftAddr, err)
		}
		p.transport = transport
		p.closers = append(p.closers, transport.Close)
	}

	var logStore raft.LogStore
	var stableStore raft.StableStore
	var snapshots raft.SnapshotStore
	if p.cfg.RaftDir == "" {
		inmem := raft.NewInmemStore()
		logStore = inmem
		stableStore = inmem
		snapshots = raft.NewInmemSnapshotStore()
	} else {
		boltStore, err := raftboltdb.NewBoltStore(filepath.Join(p.cfg.RaftDir, "raft.db"))
		if err != nil {
			return fmt.Errorf("new bbolt store: %w", err)
		}
		p.closers = append(p.closers, boltStore.Close)
		logStore = boltStore
		stableStore = boltStore
		snapshots, err = raft.NewFileSnapshotStoreWithLogger(p.cfg.RaftDir, max(p.cfg.RetainSnapshots, 1), p.logger.Named("snapshots"))
		if err != nil {
			return fmt.Errorf("file snapshot store: %w", err)
		}
	}

	ra, err := raft.NewRaft(cfg, &fsm{partition: p}, logStore, stableStore, snapshots, p.transport)
	if err != nil {
		return fmt.Errorf("new raft: %w", err)
	}
	p.raft = ra
	p.observerChan = make(chan raft.Observation, observerChanLen)
	p.observer = raft.NewObserver(p.observerChan, true, func(o *raft.Observation) bool {
		_, isLeaderChange := o.Data.(raft.LeaderObservation)
		return isLeaderChange
	})
	p.raft.RegisterObserver(p.observer)
	return nil
}

// Bootstrap creates the raft cluster from this node and the configured peers.
// It does nothing when the raft state already exists.
func (p *Partition) Bootstrap() error {
	if !p.open.Load() {
		return ErrNotOpen
	}
	servers := []raft.Server{{
		ID:      raft.ServerID(p.cfg.NodeId),
		Address: p.transport.LocalAddr(),
	}}
	for id, addr := range p.cfg.Peers {
		servers = append(servers, raft.Server{ID: raft.ServerID(id), Address: raft.ServerAddress(addr)})
	}
	err := p.raft.BootstrapCluster(raft.Configuration{Servers: servers}).Error()
	if err != nil && !errors.Is(err, raft.ErrCantBootstrap) {
		return fmt.Errorf("failed to bootstrap partition: %w", err)
	}
	return nil
}

// Append replicates the batch and returns once it is committed. Only the
// leader appends.
func (p *Partition) Append(_ context.Context, batch bpmn.RecordBatch) error {
	if !p.open.Load() {
		return ErrNotOpen
	}
	if !p.leader.Load() {
		return ErrNotLeader
	}
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to marshal batch before applying to raft log: %w", err)
	}
	p.written.Store(batch.LastPosition())
	f := p.raft.Apply(data, p.cfg.ApplyTimeout)
	if err := f.Error(); err != nil {
		if errors.Is(err, raft.ErrNotLeader) || errors.Is(err, raft.ErrLeadershipLost) {
			return fmt.Errorf("%w: %w", ErrNotLeader, err)
		}
		return fmt.Errorf("failed to apply batch to raft log: %w", err)
	}
	if err, ok := f.Response().(error); ok && err != nil {
		return err
	}
	return nil
}

// IsLeader reports whether this node processes the commands of the partition.
func (p *Partition) IsLeader() bool {
	return p.open.Load() && p.leader.Load()
}

// LeaderWithID returns the raft address and id of the current leader, both
// empty when the leader is unknown.
func (p *Partition) LeaderWithID() (string, string) {
	if !p.open.Load() {
		return "", ""
	}
	addr, id := p.raft.LeaderWithID()
	return string(addr), string(id)
}

// WaitForLeader blocks until a leader is known or the timeout expires.
func (p *Partition) WaitForLeader(timeout time.Duration) (string, error) {
	if !p.open.Load() {
		return "", ErrNotOpen
	}
	tck := time.NewTicker(leaderWaitDelay)
	defer tck.Stop()
	tmr := time.NewTimer(timeout)
	defer tmr.Stop()
	for {
		select {
		case <-tck.C:
			if _, id := p.LeaderWithID(); id != "" {
				return id, nil
			}
		case <-tmr.C:
			return "", ErrWaitForLeaderTimeout
		}
	}
}

// Status describes the partition for the system endpoint.
type Status struct {
	NodeId       string `json:"nodeId"`
	RaftState    string `json:"raftState"`
	Leader       bool   `json:"leader"`
	LeaderId     string `json:"leaderId"`
	LeaderAddr   string `json:"leaderAddr"`
	CommitIndex  uint64 `json:"commitIndex"`
	AppliedIndex uint64 `json:"appliedIndex"`
	Position     int64  `json:"position"`
	Halted       string `json:"halted,omitempty"`
}

func (p *Partition) Status() Status {
	status := Status{NodeId: p.cfg.NodeId, RaftState: "Closed"}
	if halted := p.engine.Halted(); halted != nil {
		status.Halted = halted.Error()
	}
	if !p.open.Load() {
		return status
	}
	status.RaftState = p.raft.State().String()
	status.Leader = p.leader.Load()
	status.LeaderAddr, status.LeaderId = p.LeaderWithID()
	status.CommitIndex = p.raft.CommitIndex()
	status.AppliedIndex = p.raft.AppliedIndex()
	_ = p.engine.ReadConsistent(func(state storage.ReadonlyState, _ []runtime.Record) error {
		status.Position = state.LastAppliedPosition()
		return nil
	})
	return status
}

// Close stops leadership work, shuts raft down and closes its stores.
func (p *Partition) Close() error {
	if !p.open.Load() {
		return nil
	}
	p.stepDown()
	p.raft.DeregisterObserver(p.observer)
	var errJoin error
	if err := p.raft.Shutdown().Error(); err != nil {
		errJoin = errors.Join(errJoin, fmt.Errorf("failed to shut down raft: %w", err))
	}
	for _, closeFn := range p.closers {
		errJoin = errors.Join(errJoin, closeFn())
	}
	p.open.Store(false)
	return errJoin
}
