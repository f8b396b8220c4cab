package extract

import "errors"

// ErrMalformedContent means the page had no usable body. The item fails
// and is retried on a later run.
var ErrMalformedContent = errors.New("malformed content")
