package schemarev

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

type Direction int

const (
	DirectionNone Direction = iota
	DirectionUp
	DirectionDown
)

func (d Direction) String() string {
	switch d {
	case DirectionUp:
		return "upgrade"
	case DirectionDown:
		return "downgrade"
	default:
		return "none"
	}
}

// Plan is the work a run would do without doing it.
type Plan struct {
	Direction Direction
	Current   string
	Target    string
	Steps     []*Revision
}

type Migrator struct {
	Store   Store
	History *History
	Logger  *zerolog.Logger

	HoldLockOnFailure bool
}

func (m *Migrator) logger() *zerolog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	nop := zerolog.Nop()
	return &nop
}

func (m *Migrator) check() error {
	if m.Store == nil {
		return errors.New("missing store")
	}
	if m.History == nil {
		return errors.New("missing history")
	}
	return nil
}

// Current returns the applied revision id, or "" at base.
func (m *Migrator) Current(ctx context.Context) (string, error) {
	if err := m.check(); err != nil {
		return "", err
	}
	if err := m.Store.Init(ctx); err != nil {
		return "", fmt.Errorf("failed to init version store: %w", err)
	}
	return m.current(ctx)
}

func (m *Migrator) current(ctx context.Context) (string, error) {
	v, err := m.Store.Version(ctx)
	if err != nil {
		if errors.Is(err, ErrInitialVersion) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get version store state: %w", err)
	}
	if _, ok := m.History.Get(v); !ok {
		return "", fmt.Errorf("database is at %s: %w", v, ErrUnknownRevision)
	}
	return v, nil
}

// Plan reports what Upgrade or Downgrade would do to reach target.
func (m *Migrator) Plan(ctx context.Context, target string) (*Plan, error) {
	current, err := m.Current(ctx)
	if err != nil {
		return nil, err
	}
	return m.plan(current, target)
}

func (m *Migrator) plan(current, target string) (*Plan, error) {
	to, err := m.History.Resolve(target, current)
	if err != nil {
		return nil, err
	}
	p := &Plan{Current: current, Target: to}
	switch {
	case to == current:
	case m.History.IsAncestor(current, to):
		p.Direction = DirectionUp
		p.Steps, err = m.History.UpgradePath(current, to)
	case m.History.IsAncestor(to, current):
		p.Direction = DirectionDown
		p.Steps, err = m.History.DowngradePath(current, to)
	default:
		err = fmt.Errorf("%s and %s are on different branches", displayID(current), displayID(to))
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Upgrade applies every revision between the current one and target.
func (m *Migrator) Upgrade(ctx context.Context, target string) error {
	return m.run(ctx, target, DirectionUp)
}

// Downgrade reverts every revision between the current one and target.
func (m *Migrator) Downgrade(ctx context.Context, target string) error {
	return m.run(ctx, target, DirectionDown)
}

func (m *Migrator) run(ctx context.Context, target string, dir Direction) (err error) {
	log := m.logger()
	defer func() {
		if err == nil {
			log.Info().Str("direction", dir.String()).Msg("done")
		}
	}()

	if err := m.check(); err != nil {
		return err
	}

	return m.locked(ctx, func() error {
		current, err := m.current(ctx)
		if err != nil {
			return err
		}
		log.Debug().Str("current", displayID(current)).Str("target", target).Msg("remote version")

		plan, err := m.plan(current, target)
		if err != nil {
			return err
		}
		if plan.Direction != DirectionNone && plan.Direction != dir {
			return fmt.Errorf("cannot %s from %s to %s", dir, displayID(current), displayID(plan.Target))
		}

		for _, rev := range plan.Steps {
			if err := m.step(ctx, rev, dir); err != nil {
				return err
			}
		}
		return nil
	})
}

func (m *Migrator) step(ctx context.Context, rev *Revision, dir Direction) error {
	log := m.logger()
	next := rev.ID
	if dir == DirectionDown {
		next = rev.Down
	}

	log.Info().
		Str("direction", dir.String()).
		Str("revision", rev.ID).
		Str("message", rev.Message).
		Msg("running revision")

	err := m.Store.Transact(ctx, func(q Querier) error {
		ops := NewOps(q, m.Store.Dialect())
		if dir == DirectionUp {
			if err := rev.Up(ctx, ops); err != nil {
				return err
			}
		} else {
			if err := rev.Down(ctx, ops); err != nil {
				return err
			}
		}
		if err := m.Store.SetVersion(ctx, q, next); err != nil {
			return fmt.Errorf("failed to set version %s: %w", displayID(next), err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to %s revision %s: %w", dir, rev.ID, err)
	}
	return nil
}

// Stamp records target as the current revision without running anything.
func (m *Migrator) Stamp(ctx context.Context, target string) error {
	if err := m.check(); err != nil {
		return err
	}
	return m.locked(ctx, func() error {
		current, err := m.Store.Version(ctx)
		if err != nil && !errors.Is(err, ErrInitialVersion) {
			return fmt.Errorf("failed to get version store state: %w", err)
		}
		to, err := m.History.Resolve(target, current)
		if err != nil {
			return err
		}
		m.logger().Info().Str("current", displayID(current)).Str("revision", displayID(to)).Msg("stamping")
		return m.Store.Transact(ctx, func(q Querier) error {
			return m.Store.SetVersion(ctx, q, to)
		})
	})
}

// locked runs fn holding the store lock. The lock stays held after a failure
// of fn when HoldLockOnFailure is set.
func (m *Migrator) locked(ctx context.Context, fn func() error) (err error) {
	if err := m.Store.Init(ctx); err != nil {
		return fmt.Errorf("failed to init version store: %w", err)
	}
	if err := m.Store.Lock(ctx); err != nil {
		return fmt.Errorf("failed to get version store lock: %w", err)
	}

	defer func() {
		if err != nil && m.HoldLockOnFailure {
			m.logger().Warn().Err(err).Msg("holding version store lock after failure")
			return
		}
		if rlErr := m.Store.Release(ctx); rlErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to release version store lock: %w", rlErr))
		}
	}()

	return fn()
}
