package probe

import "errors"

// ErrNotFound indicates the input path does not exist.
var ErrNotFound = errors.New("file not found")

// ErrNotAFile indicates the input path is a directory, not a file.
var ErrNotAFile = errors.New("path is not a file")

// ErrUnsupportedFormat indicates ffprobe could not determine a usable
// format or duration for the input.
var ErrUnsupportedFormat = errors.New("unsupported media format")

// ErrUnavailable indicates ffprobe itself failed to run.
var ErrUnavailable = errors.New("probe unavailable")
