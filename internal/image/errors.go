package image

import "errors"

var (
	ErrNoDefaultStage    = errors.New("no default stage")
	ErrUnknownTarget     = errors.New("unknown target stage")
	ErrMissingEntrypoint = errors.New("missing entrypoint")
	ErrExport            = errors.New("image export failed")
)
