package entitlement

import "context"

// TryLoad invokes factory only if the caller is entitled to action for
// scope. On a denied check it returns the zero value and false without
// invoking the factory, logging, or emitting any other observable signal —
// an unentitled caller cannot distinguish "feature doesn't exist" from
// "feature exists but is locked".
func TryLoad[T any](ctx context.Context, svc *Service, action, scope string, factory func() (T, error)) (T, bool) {
	var zero T
	if _, err := svc.CheckEntitlement(ctx, action, scope); err != nil {
		return zero, false
	}
	v, err := factory()
	if err != nil {
		return zero, false
	}
	return v, true
}

// HasCapability is the non-invoking variant of TryLoad, used for conditional
// feature registration. It emits no signal either way.
func HasCapability(ctx context.Context, svc *Service, action, scope string) bool {
	_, err := svc.CheckEntitlement(ctx, action, scope)
	return err == nil
}
