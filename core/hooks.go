package core

import "github.com/pkg/errors"

// Entity lifecycle hooks, called by Insert, Save, Remove and the row mapper.
type BeforeInserter interface{ BeforeInsert() error }
type AfterInserter interface{ AfterInsert(id int64) error }
type BeforeUpdater interface{ BeforeUpdate() error }
type AfterUpdater interface{ AfterUpdate() error }
type BeforeDeleter interface{ BeforeDelete() error }
type AfterDeleter interface{ AfterDelete() error }
type AfterFinder interface{ AfterFind() error }

type hookPoint int

const (
	beforeInsert hookPoint = iota
	afterInsert
	beforeUpdate
	afterUpdate
	beforeDelete
	afterDelete
	afterFind
)

var hookNames = [...]string{"BeforeInsert", "AfterInsert", "BeforeUpdate", "AfterUpdate", "BeforeDelete", "AfterDelete", "AfterFind"}

// runHook calls the hook for p when entity implements it. id is only
// used by AfterInsert.
func runHook(p hookPoint, entity any, id int64) error {
	var err error
	switch p {
	case beforeInsert:
		if h, ok := entity.(BeforeInserter); ok {
			err = h.BeforeInsert()
		}
	case afterInsert:
		if h, ok := entity.(AfterInserter); ok {
			err = h.AfterInsert(id)
		}
	case beforeUpdate:
		if h, ok := entity.(BeforeUpdater); ok {
			err = h.BeforeUpdate()
		}
	case afterUpdate:
		if h, ok := entity.(AfterUpdater); ok {
			err = h.AfterUpdate()
		}
	case beforeDelete:
		if h, ok := entity.(BeforeDeleter); ok {
			err = h.BeforeDelete()
		}
	case afterDelete:
		if h, ok := entity.(AfterDeleter); ok {
			err = h.AfterDelete()
		}
	case afterFind:
		if h, ok := entity.(AfterFinder); ok {
			err = h.AfterFind()
		}
	}
	return errors.WithMessage(err, hookNames[p])
}
