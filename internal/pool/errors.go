package pool

import "errors"

var errInvalidScale = errors.New("pool: invalid scale parameters (max must be >= min, both >= 0)")
