// Package repository persists DomainAuth entities.
//
// Every store enforces one entity per (account, domain) and applies updates
// only when the caller's Version matches the stored one, bumping it on
// success. Two concurrent read-modify-write cycles on the same domain
// therefore cannot both land.
package repository

import "errors"

var (
	// ErrNotFound is returned when no entity matches the lookup.
	ErrNotFound = errors.New("domain auth not found")
	// ErrDuplicate is returned by Create when the account already has an
	// entity for the domain.
	ErrDuplicate = errors.New("domain auth already exists for account")
	// ErrVersionConflict is returned by Update when the stored version no
	// longer matches the entity being written.
	ErrVersionConflict = errors.New("domain auth was modified concurrently")
)
