// Package hiddensvc owns the per-user hidden addresses: provisioning on the
// control channel (or locally in simulation mode), persistence with sealed
// keys, teardown and reload after restart.
package hiddensvc

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/dmitrijs2005/burrow/internal/common"
	"github.com/dmitrijs2005/burrow/internal/cryptox"
	"github.com/dmitrijs2005/burrow/internal/logging"
	"github.com/dmitrijs2005/burrow/internal/server/models"
)

// Status reports the control-channel state. Simulated is set once a dial
// has failed or the open channel broke, and stays set until a later
// Connect succeeds.
type Status struct {
	Connected bool `json:"connected"`
	Simulated bool `json:"simulated"`
	Services  int  `json:"services"`
}

type Manager struct {
	mu        sync.Mutex
	services  map[string]*models.HiddenAddress
	ctrl      Controller
	simulated bool

	dial   Dialer
	repo   Repository
	sealer *cryptox.Sealer
	clock  clock.Clock
	logger logging.Logger
}

func NewManager(repo Repository, sealer *cryptox.Sealer, dial Dialer, clk clock.Clock, logger logging.Logger) *Manager {
	return &Manager{
		services: make(map[string]*models.HiddenAddress),
		dial:     dial,
		repo:     repo,
		sealer:   sealer,
		clock:    clk,
		logger:   logger.With("module", "hiddensvc"),
	}
}

// Connect opens the control channel. It is a no-op when already connected.
// A failed dial is not an error: the manager switches to simulation mode.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	connected := m.ctrl != nil
	m.mu.Unlock()
	if connected {
		return nil
	}

	ctrl, err := m.dial(ctx)
	if err != nil {
		m.mu.Lock()
		m.simulated = true
		m.mu.Unlock()
		m.logger.Warn(ctx, "control channel unavailable, simulating hidden addresses", "error", err)
		return nil
	}

	m.mu.Lock()
	if m.ctrl != nil {
		m.mu.Unlock()
		return ctrl.Close()
	}
	m.ctrl = ctrl
	m.simulated = false
	m.mu.Unlock()

	m.logger.Info(ctx, "control channel connected")
	return nil
}

// Disconnect closes the control channel if open.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	ctrl := m.ctrl
	m.ctrl = nil
	m.mu.Unlock()

	if ctrl == nil {
		return nil
	}
	m.logger.Info(ctx, "control channel closed")
	return ctrl.Close()
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{Connected: m.ctrl != nil, Simulated: m.simulated, Services: len(m.services)}
}

// dropController forgets a control channel that failed at the transport
// level and switches to simulation mode.
func (m *Manager) dropController(ctx context.Context, ctrl Controller, cause error) {
	m.mu.Lock()
	if m.ctrl == ctrl {
		m.ctrl = nil
		m.simulated = true
	}
	m.mu.Unlock()

	_ = ctrl.Close()
	m.logger.Warn(ctx, "control channel lost, simulating hidden addresses", "error", cause)
}

func (m *Manager) controller() Controller {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ctrl
}

// CreateHiddenService provisions a fresh address for userID, replacing and
// tearing down any previous one. target defaults to 127.0.0.1:<port>.
func (m *Manager) CreateHiddenService(ctx context.Context, userID string, port int, target string) (*models.HiddenAddress, error) {
	if userID == "" || port <= 0 || port > 65535 {
		return nil, fmt.Errorf("%w: user id and a valid port are required", common.ErrorValidation)
	}
	if target == "" {
		target = "127.0.0.1:" + strconv.Itoa(port)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}

	rec := &models.HiddenAddress{
		UserID:     userID,
		Port:       port,
		Target:     target,
		PrivateKey: priv,
		CreatedAt:  m.clock.Now().UTC(),
	}

	ctrl := m.controller()
	if ctrl != nil {
		id, err := ctrl.AddOnion(ctx, KeyBlob(priv), port, target)
		switch {
		case err == nil:
			rec.ServiceID = id
			rec.Address = id + onionSuffix
		case errors.Is(err, ErrControlRejected):
			return nil, err
		default:
			m.dropController(ctx, ctrl, err)
			ctrl = nil
		}
	}
	if ctrl == nil {
		rec.Address = OnionAddress(pub)
		rec.ServiceID = strings.TrimSuffix(rec.Address, onionSuffix)
		rec.Simulated = true
	}

	if err := m.repo.Save(ctx, m.seal(rec)); err != nil {
		m.teardown(ctx, ctrl, rec)
		return nil, err
	}

	m.mu.Lock()
	prev := m.services[userID]
	m.services[userID] = rec
	m.mu.Unlock()

	if prev != nil {
		m.teardown(ctx, ctrl, prev)
	}

	m.logger.Info(ctx, "hidden service created",
		"user_id", userID, "address", rec.Address, "simulated", rec.Simulated, "replaced", prev != nil)
	return clone(rec), nil
}

// RemoveHiddenService tears down and forgets the user's address. It
// reports false when the user has none.
func (m *Manager) RemoveHiddenService(ctx context.Context, userID string) (bool, error) {
	m.mu.Lock()
	rec, ok := m.services[userID]
	m.mu.Unlock()
	if !ok {
		return false, nil
	}

	if err := m.repo.Delete(ctx, userID); err != nil {
		return false, err
	}

	m.mu.Lock()
	if m.services[userID] == rec {
		delete(m.services, userID)
	}
	m.mu.Unlock()

	m.teardown(ctx, m.controller(), rec)
	m.logger.Info(ctx, "hidden service removed", "user_id", userID, "address", rec.Address)
	return true, nil
}

func (m *Manager) Get(userID string) (*models.HiddenAddress, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.services[userID]
	if !ok {
		return nil, false
	}
	return clone(rec), true
}

// All returns every active address ordered by user id.
func (m *Manager) All() []*models.HiddenAddress {
	m.mu.Lock()
	out := make([]*models.HiddenAddress, 0, len(m.services))
	for _, rec := range m.services {
		out = append(out, clone(rec))
	}
	m.mu.Unlock()

	slices.SortFunc(out, func(a, b *models.HiddenAddress) int { return strings.Compare(a.UserID, b.UserID) })
	return out
}

// LoadAll rebuilds the in-memory map from the repository. Records whose key
// cannot be unsealed are skipped. With a live control channel, non-simulated
// addresses are re-announced since ephemeral services do not survive a
// restart of the network daemon.
func (m *Manager) LoadAll(ctx context.Context) (int, error) {
	recs, err := m.repo.List(ctx)
	if err != nil {
		return 0, err
	}

	ctrl := m.controller()
	loaded := 0
	for _, r := range recs {
		key, err := m.sealer.Open(r.SealedKey, []byte(r.UserID))
		if err != nil || len(key) != ed25519.PrivateKeySize {
			m.logger.Warn(ctx, "skipping hidden service with unreadable key", "user_id", r.UserID, "error", err)
			continue
		}
		rec := r.HiddenAddress
		rec.PrivateKey = ed25519.PrivateKey(key)

		if ctrl != nil && !rec.Simulated {
			if _, err := ctrl.AddOnion(ctx, KeyBlob(rec.PrivateKey), rec.Port, rec.Target); err != nil {
				m.logger.Warn(ctx, "re-announcing hidden service failed", "user_id", rec.UserID, "error", err)
			}
		}

		m.mu.Lock()
		m.services[rec.UserID] = &rec
		m.mu.Unlock()
		loaded++
	}

	m.logger.Info(ctx, "hidden services loaded", "count", loaded)
	return loaded, nil
}

func (m *Manager) seal(rec *models.HiddenAddress) *Record {
	return &Record{
		HiddenAddress: *rec,
		SealedKey:     m.sealer.Seal(rec.PrivateKey, []byte(rec.UserID)),
	}
}

// teardown withdraws rec from the control channel and wipes its key.
func (m *Manager) teardown(ctx context.Context, ctrl Controller, rec *models.HiddenAddress) {
	defer common.WipeByteArray(rec.PrivateKey)
	if ctrl == nil || rec.Simulated || rec.ServiceID == "" {
		return
	}
	if err := ctrl.DelOnion(ctx, rec.ServiceID); err != nil {
		m.logger.Warn(ctx, "DEL_ONION failed", "service_id", rec.ServiceID, "error", err)
	}
}

func clone(rec *models.HiddenAddress) *models.HiddenAddress {
	c := *rec
	c.PrivateKey = slices.Clone(rec.PrivateKey)
	return &c
}
