// Package master implements the per-universe Master controller: actor
// creation (local or remote-resolved), the synchronous
// init/start/pause-resume/terminate lifecycle phases, federation
// handshakes with peer masters authenticated via JWT, clock reset
// mediation, and the "verifiable ask" trust mechanism that gates every
// lifecycle- or clock-altering message. Creation and initialization
// proceed in order; Create returns on the first non-optional failure, and
// Init terminates the actors created so far on a non-optional failure,
// the same renew/abort control flow a supervised fan-out uses elsewhere
// in this runtime.
/*
 * Copyright (c) 2018-2026, RACE contributors. All rights reserved.
 */
package master

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/nasarace/race-go/actor"
	"github.com/nasarace/race-go/bus"
	"github.com/nasarace/race-go/clock"
	"github.com/nasarace/race-go/cmn/cos"
	"github.com/nasarace/race-go/cmn/nlog"
	"github.com/nasarace/race-go/config"
)

// ActorDescriptor is one configured actor.
type ActorDescriptor struct {
	Name     string
	Remote   string // non-empty: resolve/instantiate through the remote master at this URI
	Optional bool
	Config   any
	Factory  func(path string) actor.Behavior // local creation
}

// RemoteMaster is the minimal abstraction this universe's Master needs
// of a peer master across a federation link: a string address plus a
// dial function supplied by the transport.
type RemoteMaster interface {
	Identify(ctx context.Context) (token string, err error)
	RemoteConnectionRequest(ctx context.Context, token string, self string) (accepted bool, caps actor.Capabilities, err error)
	RemoteRaceStart(ctx context.Context, simTime clock.Instant, timeScale float64) error
	RemoteClockReset(ctx context.Context, instant clock.Instant, scale float64) error
	RemoteTerminate(ctx context.Context) error
}

// jwtClaims signs a RemoteConnectionRequest so the receiving master can
// verify the caller is who it claims. HMAC-SHA256 keyed by a
// universe-pair shared secret is sufficient here; this is an internal
// federation link, not a public API.
type jwtClaims struct {
	jwt.RegisteredClaims
	UniversePath string `json:"universe_path"`
}

// Master drives one universe's lifecycle.
type Master struct {
	universePath string
	cfg          config.Config
	bus          *bus.Bus
	clock        *clock.Clock
	log          *nlog.Logger
	jwtSecret    []byte

	parent *actor.Parent

	mu          sync.Mutex
	kernels     map[string]*actor.Kernel
	configs     map[string]any // descriptor name -> its own Config, for Initialize
	creationOrder []string
	commonCaps  actor.Capabilities
	status      actor.Status
	remotes     map[string]RemoteMaster // descriptor name -> resolved remote master
	acceptedCaps map[string]actor.Capabilities // remote universe path -> accepted caps

	// Verifiable-ask trust: a one-shot pairing of a question with its
	// expected recipient, cleared on any reply.
	verMu       sync.Mutex
	verifiable  map[string]string // questionID -> expected-recipient path
	controllerPath string

	// runCtx lives for the universe's whole lifetime and drives every
	// kernel's mailbox goroutine; it is distinct from the short-lived,
	// per-phase timeout contexts used for Ask calls, so a phase timing
	// out never tears down actors that are otherwise healthy.
	runCtx    context.Context
	runCancel context.CancelFunc
}

func New(universePath string, cfg config.Config, b *bus.Bus, clk *clock.Clock, jwtSecret []byte, controllerPath string) *Master {
	runCtx, runCancel := context.WithCancel(context.Background())
	return &Master{
		universePath:   universePath,
		cfg:            cfg,
		bus:            b,
		clock:          clk,
		log:            nlog.New(universePath + "/master"),
		jwtSecret:      jwtSecret,
		parent:         actor.NewParent(universePath + "/master"),
		kernels:        make(map[string]*actor.Kernel),
		configs:        make(map[string]any),
		remotes:        make(map[string]RemoteMaster),
		acceptedCaps:   make(map[string]actor.Capabilities),
		verifiable:     make(map[string]string),
		controllerPath: controllerPath,
		status:         actor.Initializing,
		runCtx:         runCtx,
		runCancel:      runCancel,
	}
}

// Shutdown cancels the universe-lifetime run context, stopping every
// kernel's mailbox goroutine. Call after Terminate.
func (m *Master) Shutdown() { m.runCancel() }

// --- verifiable-ask trust -----------------------------------------------

// NewVerifiableAsk registers a one-shot question/recipient pairing; the
// returned token must accompany the eventual reply.
func (m *Master) NewVerifiableAsk(recipient string) string {
	token := randomToken()
	m.verMu.Lock()
	m.verifiable[token] = recipient
	m.verMu.Unlock()
	return token
}

// VerifyAndClear checks that token was issued for sender, clearing it
// regardless of outcome.
func (m *Master) VerifyAndClear(token, sender string) bool {
	m.verMu.Lock()
	defer m.verMu.Unlock()
	expected, ok := m.verifiable[token]
	delete(m.verifiable, token)
	return ok && expected == sender
}

// IsTrustedSender reports whether sender may alter lifecycle or clock
// state: either the parent-process controller, or an accepted remote
// master.
func (m *Master) IsTrustedSender(sender string) bool {
	if sender == m.controllerPath {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.acceptedCaps[sender]
	return ok
}

func randomToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// --- federation handshake ------------------------------------------------

// SignHandshake produces a JWT asserting this universe's identity, to
// accompany a RemoteConnectionRequest sent to a peer master.
func (m *Master) SignHandshake() (string, error) {
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
		UniversePath: m.universePath,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.jwtSecret)
}

// VerifyHandshake validates a peer's signed identity and returns the
// claimed universe path.
func (m *Master) VerifyHandshake(signed string) (string, error) {
	claims := &jwtClaims{}
	_, err := jwt.ParseWithClaims(signed, claims, func(t *jwt.Token) (any, error) {
		return m.jwtSecret, nil
	})
	if err != nil {
		return "", fmt.Errorf("remote handshake signature invalid: %w", err)
	}
	return claims.UniversePath, nil
}

// --- create phase --------------------------------------------------------

// Create instantiates every descriptor, locally or via its remote master,
// in order.
func (m *Master) Create(ctx context.Context, descriptors []ActorDescriptor, dial func(uri string) (RemoteMaster, error)) error {
	defer m.recoverPanic()
	ctx, cancel := context.WithTimeout(ctx, m.cfg.CreateTimeout)
	defer cancel()

	for _, d := range descriptors {
		if d.Remote == "" {
			path := m.universePath + "/" + d.Name
			k := actor.New(path, d.Factory(path), m.bus, nil, 256)
			m.mu.Lock()
			m.kernels[d.Name] = k
			m.configs[d.Name] = d.Config
			m.creationOrder = append(m.creationOrder, d.Name)
			m.mu.Unlock()
			m.parent.AddChild(k, d.Config)
			continue
		}
		rm, err := dial(d.Remote)
		if err != nil {
			if d.Optional {
				m.log.Warningf("optional remote actor %s unreachable: %v", d.Name, err)
				continue
			}
			return cos.NewRemoteHandshakeFailure(d.Remote, err)
		}
		signed, err := m.SignHandshake()
		if err != nil {
			return cos.NewRemoteHandshakeFailure(d.Remote, err)
		}
		accepted, caps, err := rm.RemoteConnectionRequest(ctx, signed, m.universePath)
		if err != nil || !accepted {
			if d.Optional {
				m.log.Warningf("optional remote actor %s rejected: %v", d.Name, err)
				continue
			}
			return cos.NewRemoteHandshakeFailure(d.Remote, err)
		}
		m.mu.Lock()
		m.remotes[d.Name] = rm
		m.acceptedCaps[d.Remote] = caps
		m.mu.Unlock()
	}
	return nil
}

// --- init phase -----------------------------------------------------------

// Init sends Initialize to every local actor in creation order, each
// with its own descriptor's Config, and intersects reported
// capabilities. A non-optional failure aborts the whole universe:
// everything started so far is terminated before the error is returned.
func (m *Master) Init(ctx context.Context, optional map[string]bool) error {
	defer m.recoverPanic()
	ctx, cancel := context.WithTimeout(ctx, m.cfg.InitTimeout)
	defer cancel()

	var caps []actor.Capabilities
	for _, name := range m.namesInOrder() {
		k := m.kernelFor(name)
		if k == nil {
			continue
		}
		go k.Run(m.runCtx)
		reply := k.Ask(ctx, actor.Initialize{Ctx: m.runCtx, Config: m.configFor(name)}, m.universePath+"/master", m.cfg.InitTimeout)
		switch r := reply.(type) {
		case actor.Initialized:
			caps = append(caps, r.Caps)
		default:
			if optional[name] {
				m.log.Warningf("optional actor %s failed to initialize: %+v", name, reply)
				m.parent.RemoveChild(k.Path)
				continue
			}
			_ = m.Terminate(context.Background(), m.universePath+"/master")
			return cos.NewInitializationFailure(k.Path, fmt.Errorf("init reply %+v", reply))
		}
	}
	m.mu.Lock()
	m.commonCaps = actor.IntersectAll(caps)
	m.status = actor.Initialized
	m.mu.Unlock()
	return nil
}

// --- start phase -----------------------------------------------------------

// Start resumes the clock, starts satellites, then starts local actors in
// creation order.
func (m *Master) Start(ctx context.Context) error {
	defer m.recoverPanic()
	ctx, cancel := context.WithTimeout(ctx, m.cfg.StartTimeout)
	defer cancel()
	m.clock.Resume()

	m.mu.Lock()
	remotes := make(map[string]RemoteMaster, len(m.remotes))
	for k, v := range m.remotes {
		remotes[k] = v
	}
	m.mu.Unlock()
	for name, rm := range remotes {
		if err := rm.RemoteRaceStart(ctx, m.clock.Now(), m.clock.Scale()); err != nil {
			m.log.Warningf("satellite %s start failed: %v", name, err)
		}
	}

	for _, name := range m.namesInOrder() {
		k := m.kernelFor(name)
		if k == nil {
			continue
		}
		reply := k.Ask(ctx, actor.Start{Originator: m.universePath + "/master"}, m.universePath+"/master", m.cfg.StartTimeout)
		if _, ok := reply.(actor.Started); !ok {
			return cos.NewStartFailure(k.Path, fmt.Errorf("start reply %+v", reply))
		}
	}
	m.mu.Lock()
	m.status = actor.Running
	m.mu.Unlock()
	return nil
}

// --- pause/resume phase ----------------------------------------------------

// PauseResume is permitted only if supportsPauseResume is in the common
// capability set.
func (m *Master) PauseResume(ctx context.Context, pause bool) bool {
	defer m.recoverPanic()
	m.mu.Lock()
	allowed := m.commonCaps.Has(actor.SupportsPauseResume)
	m.mu.Unlock()
	if !allowed {
		m.log.Warningf("pause/resume denied: supportsPauseResume not in common capabilities")
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.SystemTimeout)
	defer cancel()
	ok := m.parent.AskChildren(ctx, func(k *actor.Kernel) any {
		if pause {
			return actor.Pause{Originator: m.universePath + "/master"}
		}
		return actor.Resume{Originator: m.universePath + "/master"}
	}, m.cfg.SystemTimeout, func(reply any) bool {
		switch reply.(type) {
		case actor.PauseOK, actor.ResumeOK:
			return true
		default:
			return false
		}
	})
	if ok {
		m.mu.Lock()
		if pause {
			m.status = actor.Paused
		} else {
			m.status = actor.Running
		}
		m.mu.Unlock()
	}
	return ok
}

// --- clock reset -----------------------------------------------------------

// RequestSimClockReset is only permitted when supportsSimTimeReset holds
// in the common (and federated) capability intersection; otherwise warns
// and rejects without touching the clock.
func (m *Master) RequestSimClockReset(ctx context.Context, requester string, instant clock.Instant, scale float64) bool {
	defer m.recoverPanic()
	m.mu.Lock()
	allowed := m.commonCaps.Has(actor.SupportsSimTimeReset)
	for _, c := range m.acceptedCaps {
		if !c.Has(actor.SupportsSimTimeReset) {
			allowed = false
		}
	}
	remotes := make(map[string]RemoteMaster, len(m.remotes))
	for k, v := range m.remotes {
		remotes[k] = v
	}
	m.mu.Unlock()
	if !allowed {
		m.log.Warningf("clock reset denied: supportsSimTimeReset not in common capabilities (requester=%s)", requester)
		return false
	}
	if !m.cfg.AllowFutureReset && instant > m.clock.Now() {
		m.log.Warningf("clock reset denied: instant is in the future and allow-future-reset is false")
		return false
	}
	m.clock.Reset(instant, scale)
	m.bus.PublishSys(ClockResetChannel, ClockReset{Requester: requester, Instant: instant, Scale: scale}, m.universePath+"/master")
	for name, rm := range remotes {
		if err := rm.RemoteClockReset(ctx, instant, scale); err != nil {
			m.log.Warningf("satellite %s clock reset failed: %v", name, err)
		}
	}
	return true
}

// ClockResetChannel is the well-known local channel ClockReset events are
// published on for in-universe observers.
const ClockResetChannel = "local/race/clock-reset"

type ClockReset struct {
	Requester string
	Instant   clock.Instant
	Scale     float64
}

// --- terminate phase --------------------------------------------------------

// Terminate iterates actors in reverse creation order, stopping each that
// confirms; satellites are terminated afterward. It never panics the
// caller: any per-child failure is logged and retained.
func (m *Master) Terminate(ctx context.Context, originator string) bool {
	defer m.recoverPanic()
	ctx, cancel := context.WithTimeout(ctx, m.cfg.TerminateTimeout)
	defer cancel()
	m.mu.Lock()
	m.status = actor.Terminating
	m.mu.Unlock()

	ok := m.parent.TerminateAndRemove(ctx, originator, m.cfg.TerminateTimeout)

	m.mu.Lock()
	remotes := make(map[string]RemoteMaster, len(m.remotes))
	for k, v := range m.remotes {
		remotes[k] = v
	}
	m.mu.Unlock()
	for name, rm := range remotes {
		if err := rm.RemoteTerminate(ctx); err != nil {
			m.log.Warningf("satellite %s terminate failed: %v", name, err)
		}
	}
	if ok {
		m.mu.Lock()
		m.status = actor.Terminated
		m.mu.Unlock()
	}
	return ok
}

// --- introspection helpers --------------------------------------------------

func (m *Master) namesInOrder() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.creationOrder))
	copy(out, m.creationOrder)
	return out
}

func (m *Master) kernelFor(name string) *actor.Kernel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.kernels[name]
}

func (m *Master) configFor(name string) any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.configs[name]
}

// Lookup resolves a kernel by its full actor path, for components (the
// monitor, the provider negotiator) that address actors by path rather
// than by creation-time name.
func (m *Master) Lookup(path string) (*actor.Kernel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.kernels {
		if k.Path == path {
			return k, true
		}
	}
	return nil, false
}

func (m *Master) CommonCapabilities() actor.Capabilities {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commonCaps
}

func (m *Master) Status() actor.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// recoverPanic ensures the master never crashes: any panic raised while
// driving a lifecycle phase is caught, logged, and swallowed.
func (m *Master) recoverPanic() {
	if r := recover(); r != nil {
		m.log.Errorf("master %s recovered from panic: %v", m.universePath, r)
	}
}
