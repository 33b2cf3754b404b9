// Package errors re-exports github.com/cockroachdb/errors so the rest of the
// module gets stack traces, hints and error marks from a single import.
//
//	if err := repo.UpdateItem(ctx, id, guard, upd); err != nil {
//	    return errors.Wrapf(err, "record outcome for item %d", id)
//	}
//
// Sentinels that must survive wrapping across packages are attached with
// Mark and tested with Is.
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
	GetAllHints = crdb.GetAllHints
)

var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Mark      = crdb.Mark
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
)
