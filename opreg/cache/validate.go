package cache

import (
	"fmt"

	"github.com/ZanzyTHEbar/operator-registry/opreg/artifact"
	"github.com/ZanzyTHEbar/operator-registry/opreg/registry"
)

// Validator checks a restored record against the live system.
type Validator interface {
	Validate(rec *registry.Record) error
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(rec *registry.Record) error

func (f ValidatorFunc) Validate(rec *registry.Record) error { return f(rec) }

// LiveValidator checks that each record's file still exists with the
// recorded modification time. Compiled operators found inside an archive are
// re-instantiated instead and must still report the recorded command.
type LiveValidator struct {
	Materializer registry.Materializer
}

func (v LiveValidator) Validate(rec *registry.Record) error {
	mtime, err := rec.Locator.ModTime()
	if err != nil {
		return err
	}
	if rec.Locator.Kind == artifact.KindCompiled && rec.Locator.InArchive() {
		if v.Materializer == nil {
			return fmt.Errorf("cannot re-instantiate %s", rec.Locator.TypeName)
		}
		op, ok := v.Materializer.Materialize(rec.Locator, rec.DataSet)
		if !ok {
			return fmt.Errorf("%s no longer loads", rec.Locator.TypeName)
		}
		if op.Command() != rec.Command {
			return fmt.Errorf("command changed from %q to %q", rec.Command, op.Command())
		}
		return nil
	}
	if mtime != rec.LastModified {
		return fmt.Errorf("modified at %d, recorded %d", mtime, rec.LastModified)
	}
	return nil
}
