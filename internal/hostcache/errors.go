package hostcache

import "github.com/pkg/errors"

var (
	ErrCacheFull = errors.New("host cache is full")
	ErrDuplicate = errors.New("host already cached")
)
