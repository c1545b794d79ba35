package render

import (
	"errors"
	"fmt"
)

// MergeError reports a parameter placeholder Merge could not renumber.
type MergeError struct {
	Token string
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("merge: cannot locate parameter %s", e.Token)
}

// IsMergeError reports whether err wraps a *MergeError.
func IsMergeError(err error) bool {
	var target *MergeError
	return errors.As(err, &target)
}
