package service

import (
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/BrandonDHaskell/lockgate/internal/lockgate/store"
)

// Gateway holds one Machine per configured locker.
type Gateway struct {
	machines map[string]*Machine
	ids      []string
}

// NewGateway builds a Machine for every id in lockers, each configured from
// template with its own LockerID.  Blank and duplicate ids are skipped.
func NewGateway(lockers []string, template MachineConfig, st store.StateStore, identity IdentitySource, policy AccessPolicy, logger *log.Logger) *Gateway {
	g := &Gateway{machines: make(map[string]*Machine, len(lockers))}
	for _, id := range lockers {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := g.machines[id]; dup {
			continue
		}
		cfg := template
		cfg.LockerID = id
		g.machines[id] = NewMachine(cfg, st, identity, policy, logger)
		g.ids = append(g.ids, id)
	}
	sort.Strings(g.ids)
	return g
}

func (g *Gateway) Locker(id string) (*Machine, error) {
	m, ok := g.machines[strings.TrimSpace(id)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLocker, id)
	}
	return m, nil
}

// IDs returns the configured locker ids in sorted order.
func (g *Gateway) IDs() []string {
	out := make([]string, len(g.ids))
	copy(out, g.ids)
	return out
}

func (g *Gateway) Close() {
	for _, m := range g.machines {
		m.Close()
	}
}
