// Package engine owns the simulation: the host world, the tick scheduler,
// the fixture registry and the placement protocol. Everything runs on the
// goroutine that calls Run (or StepOnce); transports only talk to it through
// channels.
package engine

import (
	"fmt"
	"log"
	"sync/atomic"

	"fixturecraft.ai/internal/persistence/snapshot"
	"fixturecraft.ai/internal/protocol"
	"fixturecraft.ai/internal/sim/catalogs"
	"fixturecraft.ai/internal/sim/fit"
	"fixturecraft.ai/internal/sim/fixture"
	"fixturecraft.ai/internal/sim/model"
	"fixturecraft.ai/internal/sim/placement"
	"fixturecraft.ai/internal/sim/sched"
	"fixturecraft.ai/internal/sim/tuning"
	"fixturecraft.ai/internal/sim/world"
)

type Config struct {
	WorldID            string
	TickRateHz         int
	SnapshotEveryTicks int

	Fixture   fixture.Config
	Placement placement.Config
}

func ConfigFromTuning(worldID string, t tuning.Tuning) Config {
	return Config{
		WorldID:            worldID,
		TickRateHz:         t.TickRateHz,
		SnapshotEveryTicks: t.SnapshotEveryTicks,
		Fixture:            fixture.ConfigFromTuning(t),
		Placement:          placement.ConfigFromTuning(t),
	}
}

type JoinRequest struct {
	Name     string
	Observer bool
	Out      chan []byte
	Resp     chan JoinResponse
}

type JoinResponse struct {
	ClientID string
	Welcome  protocol.WelcomeMsg
	// Code is set when the join was refused.
	Code    string
	Message string
}

type ActionEnvelope struct {
	ClientID string
	Act      protocol.ActMsg
}

type clientState struct {
	id       string
	mobile   model.Serial
	observer bool
	out      chan []byte
}

type Engine struct {
	cfg    Config
	log    *log.Logger
	layout world.Layout

	world *world.World
	sched *sched.Scheduler
	reg   *fixture.Registry
	proto *placement.Protocol

	inbox      chan ActionEnvelope
	join       chan JoinRequest
	leave      chan string
	admin      chan adminSnapshotReq
	stop       chan struct{}
	clients    map[string]*clientState
	byMobile   map[model.Serial]string
	nextClient uint64

	tickLogger   TickLogger
	auditLogger  AuditLogger
	snapshotSink chan<- snapshot.SnapshotV1
	store        placement.Store

	pending []pendingEvent
	audits  []AuditEntry

	tick    atomic.Uint64
	metrics atomic.Value
}

// New builds a fresh world from layout and wires the fixture subsystem into it.
func New(cfg Config, layout world.Layout, cats *catalogs.Catalogs, logger *log.Logger) (*Engine, error) {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.TickRateHz <= 0 {
		return nil, fmt.Errorf("engine: tick rate must be positive")
	}
	w, err := world.Build(layout, cats, logger)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	s := sched.New(logger)
	reg := fixture.NewRegistry(cfg.Fixture, fixture.Deps{
		Sched:    s,
		Serials:  w,
		Items:    w,
		Actors:   w,
		Owners:   w,
		Hands:    w,
		Catalogs: cats,
		Log:      logger,
	})
	w.SetObstacles(reg.Obstacles)

	e := &Engine{
		cfg:      cfg,
		log:      logger,
		layout:   layout,
		world:    w,
		sched:    s,
		reg:      reg,
		inbox:    make(chan ActionEnvelope, 1024),
		join:     make(chan JoinRequest, 64),
		leave:    make(chan string, 64),
		admin:    make(chan adminSnapshotReq, 8),
		stop:     make(chan struct{}),
		clients:  map[string]*clientState{},
		byMobile: map[model.Serial]string{},
	}
	e.proto = placement.New(cfg.Placement, placement.Deps{
		Sched:    s,
		Registry: reg,
		Actors:   w,
		Items:    w,
		Zones:    w,
		Fit:      fit.Validator{Spatial: w, Owners: w},
		Log:      logger,
		OnEvent:  e.onPlacement,
	})
	w.OnEvent = e.onWorld
	reg.OnNotice(e.onNotice)
	e.disconnectAll()
	e.metrics.Store(Metrics{})
	return e, nil
}

func (e *Engine) SetTickLogger(l TickLogger)                    { e.tickLogger = l }
func (e *Engine) SetAuditLogger(l AuditLogger)                  { e.auditLogger = l }
func (e *Engine) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { e.snapshotSink = ch }

// SetPreviewStore sets where checkpoints save the preview registry.
func (e *Engine) SetPreviewStore(s placement.Store) { e.store = s }

func (e *Engine) Inbox() chan<- ActionEnvelope { return e.inbox }
func (e *Engine) Join() chan<- JoinRequest     { return e.join }
func (e *Engine) Leave() chan<- string         { return e.leave }

func (e *Engine) ID() string          { return e.cfg.WorldID }
func (e *Engine) TickRateHz() int     { return e.cfg.TickRateHz }
func (e *Engine) CurrentTick() uint64 { return e.tick.Load() }

// World, Registry and Placement expose the simulation for tests and tools.
// They must only be used from the engine goroutine.
func (e *Engine) World() *world.World            { return e.world }
func (e *Engine) Registry() *fixture.Registry    { return e.reg }
func (e *Engine) Placement() *placement.Protocol { return e.proto }
func (e *Engine) Scheduler() *sched.Scheduler    { return e.sched }

// Metrics is a point-in-time view published after every tick.
type Metrics struct {
	Tick     uint64  `json:"tick"`
	Fixtures int     `json:"fixtures"`
	Previews int     `json:"previews"`
	Timers   int     `json:"timers"`
	Clients  int     `json:"clients"`
	Inbox    int     `json:"inbox"`
	StepMS   float64 `json:"step_ms"`
}

func (e *Engine) Metrics() Metrics {
	m, _ := e.metrics.Load().(Metrics)
	return m
}
