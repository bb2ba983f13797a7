package manifest

import "errors"

var (
	ErrSyntax              = errors.New("invalid pipeline syntax")
	ErrDuplicateStage      = errors.New("duplicate stage name")
	ErrUnresolvedParameter = errors.New("unresolved build parameter")
)
