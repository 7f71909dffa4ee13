// Package auth decides what a caller may do. Two permission levels exist:
// Authorized callers can converse and read state, Privileged callers can
// additionally change configuration, rotate secrets and clear data.
package auth

import "errors"

// ErrAccessDenied is returned for callers below the required level.
var ErrAccessDenied = errors.New("access denied")

// Decision is the outcome of evaluating a caller.
type Decision int

const (
	Denied Decision = iota
	Authorized
	Privileged
)

func (d Decision) String() string {
	switch d {
	case Authorized:
		return "authorized"
	case Privileged:
		return "privileged"
	default:
		return "denied"
	}
}

// Authorizer maps a caller identity to a Decision.
type Authorizer interface {
	Decide(caller string) Decision
}

// Allowlist grants Privileged to owners and Authorized to listed callers.
// An empty caller list admits any identified caller; an empty caller
// string is always Denied.
type Allowlist struct {
	Owners  []string
	Callers []string
}

func (a *Allowlist) Decide(caller string) Decision {
	if caller == "" {
		return Denied
	}
	for _, o := range a.Owners {
		if o == caller {
			return Privileged
		}
	}
	if len(a.Callers) == 0 {
		return Authorized
	}
	for _, c := range a.Callers {
		if c == caller {
			return Authorized
		}
	}
	return Denied
}

// Require returns ErrAccessDenied unless the caller meets the minimum level.
func Require(a Authorizer, caller string, min Decision) error {
	if a.Decide(caller) < min {
		return ErrAccessDenied
	}
	return nil
}
