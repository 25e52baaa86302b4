package exchange

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Implementation is a versioned exchange logic release. Migrate, if set,
// transforms stored state from the previous version.
type Implementation struct {
	Version string
	Migrate func(e *Exchange) error
}

// Initializer runs once right after an upgrade, inside the same atomic call.
type Initializer func(e *Exchange) error

// UpgradeTo switches to impl.
func (e *Exchange) UpgradeTo(caller common.Address, impl Implementation) error {
	return e.UpgradeToAndCall(caller, impl, nil)
}

// UpgradeToAndCall switches to impl and runs init. The domain separator is
// recomputed for the new version, so signatures made for the previous
// version stop verifying. Any failure restores the previous version.
func (e *Exchange) UpgradeToAndCall(caller common.Address, impl Implementation, init Initializer) (err error) {
	if err := e.OnlyOwner(caller); err != nil {
		return err
	}
	if !e.initialized.Get() {
		return ErrNotInitialized
	}
	if impl.Version == "" || impl.Version == e.version.Get() {
		return fmt.Errorf("version %q: %w", impl.Version, ErrSameVersion)
	}

	snap := e.st.Snapshot()
	defer func() {
		if err != nil {
			e.st.RevertToSnapshot(snap)
		}
	}()

	prev := e.version.Get()
	if err = e.setVersion(impl.Version); err != nil {
		return err
	}
	if impl.Migrate != nil {
		if err = impl.Migrate(e); err != nil {
			return fmt.Errorf("migrate %s -> %s: %w", prev, impl.Version, err)
		}
	}
	if init != nil {
		if err = init(e); err != nil {
			return fmt.Errorf("initializer: %w", err)
		}
	}
	e.st.Emit(e.address, "Upgraded", map[string]string{
		"from": prev, "to": impl.Version, "domainSeparator": e.domainSeparator.Get().Hex(),
	})
	e.log.Infow("exchange_upgraded", "from", prev, "to", impl.Version)
	return nil
}
