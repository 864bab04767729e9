package rowinserter

import "github.com/brianvoe/gofakeit/v7"

// NameGenerator produces the placeholder values written by each request.
type NameGenerator interface {
	FirstName() string
	LastName() string
}

// FakeNames draws random names from gofakeit's shared, locked source.
type FakeNames struct{}

func (FakeNames) FirstName() string { return gofakeit.FirstName() }
func (FakeNames) LastName() string  { return gofakeit.LastName() }
