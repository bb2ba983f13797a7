package snapshot

import "errors"

var (
	ErrPathNotFound = errors.New("path not found in snapshot")
	ErrStore        = errors.New("snapshot store error")
)
