package service

import "errors"

var (
	// ErrDuplicateRegistration indicates a controller is already
	// registered for the view type.
	ErrDuplicateRegistration = errors.New("a controller is already registered for this view type")

	// ErrNoProvider indicates no controller is registered or resolvable
	// for the view type.
	ErrNoProvider = errors.New("no notebook provider is registered for this view type")
)
