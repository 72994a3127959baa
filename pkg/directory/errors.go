package directory

import "errors"

var (
	ErrInvalidCfg      = errors.New("directory: invalid configuration")
	ErrInvalidName     = errors.New("directory: invalid service name")
	ErrNameResolution  = errors.New("directory: name could not be resolved")
	ErrNameConflict    = errors.New("directory: name owned by another node")
	ErrNotOwner        = errors.New("directory: name not registered by this node")
	ErrInvalidFrame    = errors.New("directory: invalid gossip frame")
	ErrJoinCluster     = errors.New("directory: failed to join cluster")
	ErrDirectoryClosed = errors.New("directory: closed")
)
