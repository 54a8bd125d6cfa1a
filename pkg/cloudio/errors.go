package cloudio

import "github.com/cloudio/cloudio/internal/errdefs"

// Errors returned by Client. Match them with errors.Is.
var (
	ErrNotFound           = errdefs.ErrNotFound
	ErrInvalidLocation    = errdefs.ErrInvalidLocation
	ErrInvalidTarget      = errdefs.ErrInvalidTarget
	ErrBackendUnavailable = errdefs.ErrBackendUnavailable
	ErrTransferFailed     = errdefs.ErrTransferFailed
	ErrPublishFailed      = errdefs.ErrPublishFailed
	ErrUnsupportedMode    = errdefs.ErrUnsupportedMode
	ErrCacheInvariant     = errdefs.ErrCacheInvariant
)

// PublishError carries the path of the staged content kept after a failed
// upload. It matches ErrPublishFailed.
type PublishError = errdefs.PublishError

// OpError adds the failing operation and target to an error.
type OpError = errdefs.OpError
