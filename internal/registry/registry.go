// Package registry maps each logical identity to at most one live
// connection and holds the identity's balance for the process lifetime.
//
// Registry is not safe for concurrent use; it is owned by the engine loop.
// No other component mutates it.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/crowd-engine/internal/gate"
	"github.com/atmx/crowd-engine/internal/model"
	"github.com/atmx/crowd-engine/internal/protocol"
)

var (
	// ErrAccessDenied is returned when the token gate rejects an identity.
	ErrAccessDenied = model.NewError(model.KindAccessDenied, "AccessDenied", "registry: access denied")

	// ErrNotFound is returned when an identity has no live connection.
	ErrNotFound = model.NewError(model.KindNotFound, "NotFound", "registry: identity not connected")

	// ErrInsufficientBalance is returned when a debit exceeds the balance.
	ErrInsufficientBalance = model.NewError(model.KindValidation, "InsufficientBalance", "registry: insufficient balance")
)

// Conn is one client socket.
type Conn interface {
	// ID is unique per socket for the process lifetime.
	ID() string
	// Send queues an outbound frame without blocking.
	Send(msg protocol.Message) error
	// Close terminates the socket.
	Close() error
}

// Identity is a logged-in fan. The record outlives its connection so the
// balance persists across reconnects until the process exits.
type Identity struct {
	ID       string
	Conn     Conn // nil while disconnected
	Balance  decimal.Decimal
	LastSeen time.Time
}

// LoginResult reports what Login changed.
type LoginResult struct {
	Identity   *Identity
	Evicted    Conn // previous live connection, already unregistered
	FirstLogin bool
}

// Registry tracks identities and their live connections.
type Registry struct {
	gate            gate.TokenGate
	startingBalance decimal.Decimal
	now             func() time.Time

	identities map[string]*Identity
	byConn     map[string]string // conn ID → identity ID
}

// New creates an empty registry. Every identity starts with startingBalance
// on its first-ever login.
func New(g gate.TokenGate, startingBalance decimal.Decimal, now func() time.Time) *Registry {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Registry{
		gate:            g,
		startingBalance: startingBalance,
		now:             now,
		identities:      make(map[string]*Identity),
		byConn:          make(map[string]string),
	}
}

// Authorize normalizes identity and asks the token gate about it.
func (r *Registry) Authorize(identity string) (string, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" || !r.gate.HasAccess(identity) {
		return "", fmt.Errorf("%w: %q", ErrAccessDenied, identity)
	}
	return identity, nil
}

// Login binds conn to identity. A previous live connection for the same
// identity is unregistered and returned as Evicted; the caller closes it.
func (r *Registry) Login(identity string, conn Conn) (LoginResult, error) {
	identity, err := r.Authorize(identity)
	if err != nil {
		return LoginResult{}, err
	}

	// The same socket logging in under a new name drops its old identity.
	if prev, ok := r.byConn[conn.ID()]; ok && prev != identity {
		r.Disconnect(conn)
	}

	var res LoginResult
	id, ok := r.identities[identity]
	if !ok {
		id = &Identity{ID: identity, Balance: r.startingBalance}
		r.identities[identity] = id
		res.FirstLogin = true
	}

	if id.Conn != nil && id.Conn.ID() != conn.ID() {
		res.Evicted = id.Conn
		delete(r.byConn, id.Conn.ID())
	}

	id.Conn = conn
	id.LastSeen = r.now()
	r.byConn[conn.ID()] = identity
	res.Identity = id
	return res, nil
}

// Disconnect removes conn's mapping and returns the identity it belonged to.
// A socket that is no longer the live connection for its identity (for
// example one already evicted by a re-login) is ignored.
func (r *Registry) Disconnect(conn Conn) (string, bool) {
	identity, ok := r.byConn[conn.ID()]
	if !ok {
		return "", false
	}
	delete(r.byConn, conn.ID())

	id := r.identities[identity]
	if id == nil || id.Conn == nil || id.Conn.ID() != conn.ID() {
		return "", false
	}
	id.Conn = nil
	id.LastSeen = r.now()
	return identity, true
}

// Resolve returns the live connection for identity.
func (r *Registry) Resolve(identity string) (Conn, error) {
	id, ok := r.identities[identity]
	if !ok || id.Conn == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, identity)
	}
	return id.Conn, nil
}

// IdentityOf returns the identity logged in on conn.
func (r *Registry) IdentityOf(conn Conn) (string, bool) {
	identity, ok := r.byConn[conn.ID()]
	return identity, ok
}

// IsConnected reports whether identity has a live connection.
func (r *Registry) IsConnected(identity string) bool {
	id, ok := r.identities[identity]
	return ok && id.Conn != nil
}

// ConnectedCount returns the number of identities with a live connection.
func (r *Registry) ConnectedCount() int {
	return len(r.byConn)
}

// Connections returns every live connection, ordered by identity.
func (r *Registry) Connections() []Conn {
	ids := make([]string, 0, len(r.byConn))
	for _, identity := range r.byConn {
		ids = append(ids, identity)
	}
	sort.Strings(ids)

	conns := make([]Conn, 0, len(ids))
	for _, identity := range ids {
		conns = append(conns, r.identities[identity].Conn)
	}
	return conns
}

// Balance returns identity's balance; unknown identities have none.
func (r *Registry) Balance(identity string) (decimal.Decimal, bool) {
	id, ok := r.identities[identity]
	if !ok {
		return decimal.Zero, false
	}
	return id.Balance, true
}

// Debit subtracts amount from identity's balance.
func (r *Registry) Debit(identity string, amount decimal.Decimal) (decimal.Decimal, error) {
	id, ok := r.identities[identity]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNotFound, identity)
	}
	if amount.GreaterThan(id.Balance) {
		return id.Balance, fmt.Errorf("%w: balance %s, requested %s",
			ErrInsufficientBalance, id.Balance.String(), amount.String())
	}
	id.Balance = id.Balance.Sub(amount)
	return id.Balance, nil
}

// Credit adds amount to identity's balance.
func (r *Registry) Credit(identity string, amount decimal.Decimal) (decimal.Decimal, error) {
	id, ok := r.identities[identity]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNotFound, identity)
	}
	id.Balance = id.Balance.Add(amount)
	return id.Balance, nil
}
