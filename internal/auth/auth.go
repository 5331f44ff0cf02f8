package auth

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/oarkflow/smpp34/pkg/smpp"
)

// ErrAccountExists is returned when adding a system id twice
var ErrAccountExists = errors.New("account already exists")

// Account is an ESME allowed to bind
type Account struct {
	SystemID string
	Password string
	// Modes lists the permitted bind modes; empty allows all three.
	Modes []smpp.BindMode
	// AddressRange limits the ranges the account may claim; empty allows any.
	AddressRange string
	// MaxSessions caps concurrent bound sessions; 0 is unlimited.
	MaxSessions int
	Disabled    bool
}

type account struct {
	systemID    string
	hash        []byte
	modes       map[smpp.BindMode]bool
	allowed     smpp.AddressSet
	maxSessions int
	disabled    bool
}

// Directory is a static account table. Its ValidateUser and Release methods
// back a smpp.ServerHandler.
type Directory struct {
	mu       sync.RWMutex
	accounts map[string]*account
	sessions map[uint32]string
	logger   smpp.Logger
	cost     int
}

// NewDirectory creates an empty directory
func NewDirectory(logger smpp.Logger) *Directory {
	if logger == nil {
		logger = discard{}
	}
	return &Directory{
		accounts: make(map[string]*account),
		sessions: make(map[uint32]string),
		logger:   logger.WithFields(map[string]interface{}{"component": "auth"}),
		cost:     bcrypt.DefaultCost,
	}
}

// Add registers acc, hashing its password
func (d *Directory) Add(acc Account) error {
	if acc.SystemID == "" {
		return fmt.Errorf("system ID cannot be empty")
	}
	if len(acc.SystemID) >= smpp.MaxSystemIDLength {
		return fmt.Errorf("system ID %q too long", acc.SystemID)
	}
	allowed, err := smpp.ParseAddressSet(acc.AddressRange)
	if err != nil {
		return fmt.Errorf("account %s: %w", acc.SystemID, err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(acc.Password), d.cost)
	if err != nil {
		return fmt.Errorf("account %s: hash password: %w", acc.SystemID, err)
	}

	a := &account{
		systemID:    acc.SystemID,
		hash:        hash,
		allowed:     allowed,
		maxSessions: acc.MaxSessions,
		disabled:    acc.Disabled,
	}
	if len(acc.Modes) > 0 {
		a.modes = make(map[smpp.BindMode]bool, len(acc.Modes))
		for _, m := range acc.Modes {
			a.modes[m] = true
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.accounts[acc.SystemID]; exists {
		return fmt.Errorf("%w: %s", ErrAccountExists, acc.SystemID)
	}
	d.accounts[acc.SystemID] = a
	d.logger.Info("Account added", "system_id", acc.SystemID)
	return nil
}

// Remove deletes an account. Sessions already bound are left alone.
func (d *Directory) Remove(systemID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.accounts[systemID]; !ok {
		return false
	}
	delete(d.accounts, systemID)
	return true
}

// SystemIDs returns the registered system ids, sorted
func (d *Directory) SystemIDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.accounts))
	for id := range d.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ValidateUser checks a bind request against the directory. A successful
// login occupies a session slot until Release is called for connID.
func (d *Directory) ValidateUser(connID uint32, mode smpp.BindMode, systemID, password, addressRange string) smpp.LoginResult {
	d.mu.RLock()
	a, ok := d.accounts[systemID]
	d.mu.RUnlock()

	if !ok || a.disabled {
		d.logger.Warn("Login rejected: unknown user", "conn_id", connID, "system_id", systemID)
		return smpp.LoginInvalidUser
	}
	if err := bcrypt.CompareHashAndPassword(a.hash, []byte(password)); err != nil {
		d.logger.Warn("Login rejected: invalid password", "conn_id", connID, "system_id", systemID)
		return smpp.LoginInvalidPassword
	}
	if a.modes != nil && !a.modes[mode] {
		d.logger.Warn("Login rejected: bind mode not permitted", "conn_id", connID, "system_id", systemID, "mode", mode.String())
		return smpp.LoginInvalidCommand
	}
	if len(a.allowed) > 0 {
		requested, err := smpp.ParseAddressSet(addressRange)
		if err != nil || !a.allowed.Covers(requested) {
			d.logger.Warn("Login rejected: address range not permitted", "conn_id", connID, "system_id", systemID, "address_range", addressRange)
			return smpp.LoginInvalidAddress
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if a.maxSessions > 0 && d.activeLocked(systemID) >= a.maxSessions {
		d.logger.Warn("Login rejected: session limit reached", "conn_id", connID, "system_id", systemID, "max_sessions", a.maxSessions)
		return smpp.LoginFail
	}
	d.sessions[connID] = systemID
	d.logger.Info("Login accepted", "conn_id", connID, "system_id", systemID, "mode", mode.String())
	return smpp.LoginOK
}

// Release frees the session slot held by connID
func (d *Directory) Release(connID uint32) {
	d.mu.Lock()
	delete(d.sessions, connID)
	d.mu.Unlock()
}

// ActiveSessions returns the number of sessions bound as systemID
func (d *Directory) ActiveSessions(systemID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.activeLocked(systemID)
}

func (d *Directory) activeLocked(systemID string) int {
	n := 0
	for _, id := range d.sessions {
		if id == systemID {
			n++
		}
	}
	return n
}

type discard struct{}

func (discard) Debug(string, ...interface{})                      {}
func (discard) Info(string, ...interface{})                       {}
func (discard) Warn(string, ...interface{})                       {}
func (discard) Error(string, ...interface{})                      {}
func (discard) Fatal(string, ...interface{})                      {}
func (d discard) WithFields(map[string]interface{}) smpp.Logger { return d }
