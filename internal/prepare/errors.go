package prepare

import "errors"

// ErrPrepareFailed indicates decoding failed even on the plain fallback
// path — a hard failure, unlike normalization-only failures which are
// logged and absorbed.
var ErrPrepareFailed = errors.New("audio preparation failed")
