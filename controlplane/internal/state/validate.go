package state

import (
	"errors"
	"fmt"
)

// ErrValidation is returned for state transitions violating semantic
// rules.
var ErrValidation = errors.New("invalid state update")

// ValidateDelta checks the target state of the delta.
//
// Only nodes changed by the delta are checked.
func ValidateDelta(delta Delta) error {
	errs := []error{}

	for _, change := range delta.Acls() {
		if change.New != nil && !change.New.HasQualifiers() {
			errs = append(errs, fmt.Errorf("acl %q: no qualifiers", change.New.Name))
		}
	}

	for _, change := range delta.Interfaces() {
		if change.New == nil {
			continue
		}
		intf := change.New
		if _, ok := delta.New.Vlan(intf.VlanID); !ok {
			errs = append(errs, fmt.Errorf("interface %d: unknown vlan %d", intf.ID, intf.VlanID))
		}
		for _, prefix := range intf.Addresses {
			if !prefix.IsValid() {
				errs = append(errs, fmt.Errorf("interface %d: invalid address %s", intf.ID, prefix))
			}
		}
	}

	for _, change := range delta.Vlans() {
		if change.New == nil {
			continue
		}
		for _, id := range change.New.Ports {
			if _, ok := delta.New.Port(id); !ok {
				errs = append(errs, fmt.Errorf("vlan %d: unknown port %d", change.New.ID, id))
			}
		}
	}

	for _, change := range delta.Routes() {
		if change.New == nil {
			continue
		}
		for _, entry := range change.New.Entries() {
			if err := entry.Entry.Validate(); err != nil {
				errs = append(errs, fmt.Errorf("route %s of router %d, client %s: %w",
					change.New.Prefix(), change.RouterID, entry.Client, err))
			}
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return nil
}
