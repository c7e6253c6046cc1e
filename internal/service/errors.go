package service

import "errors"

var (
	// ErrInvalidDatasetName is returned when a dataset name cannot be used in remote index names.
	ErrInvalidDatasetName = errors.New("invalid dataset name, expected lowercase letters, digits and underscores")
	// ErrInvalidSource is returned when a source misses its name, module or endpoint.
	ErrInvalidSource = errors.New("source requires a name, a known module and an endpoint")
	// ErrExportDisabled is returned when no export store is configured.
	ErrExportDisabled = errors.New("version export is not configured")
	// ErrDatasetMismatch is returned when an id refers to a resource of another dataset.
	ErrDatasetMismatch = errors.New("resource belongs to another dataset")
)
