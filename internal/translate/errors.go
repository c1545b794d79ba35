package translate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/atlekbai/entityql/internal/expr"
)

// ErrShapeChanged is returned by Result.Extract when the replayed tree no
// longer lowers to the same SQL: a different number of literals, a changed
// inlined literal or a null guard that flips.
var ErrShapeChanged = errors.New("translate: query shape changed")

// TranslationError reports a node the translator cannot lower.
type TranslationError struct {
	Node  expr.Node
	Cause error
}

func (e *TranslationError) Error() string {
	if e.Node == nil {
		return "translate: " + e.Cause.Error()
	}
	return fmt.Sprintf("translate %s: %v", expr.Format(e.Node), e.Cause)
}

func (e *TranslationError) Unwrap() error { return e.Cause }

func failf(n expr.Node, format string, args ...any) error {
	return &TranslationError{Node: n, Cause: fmt.Errorf(format, args...)}
}

// fail wraps err unless it already is a translation or cycle error.
func fail(n expr.Node, err error) error {
	if err == nil {
		return nil
	}
	var te *TranslationError
	var ce *DependencyCycleError
	if errors.As(err, &te) || errors.As(err, &ce) {
		return err
	}
	return &TranslationError{Node: n, Cause: err}
}

// DependencyCycleError reports an insert graph with no valid write order.
type DependencyCycleError struct {
	Entities []string // every entity left unordered
	Cycle    []string // members of one strongly connected component
}

func (e *DependencyCycleError) Error() string {
	return fmt.Sprintf("translate: dependency cycle among %s (cycle: %s)",
		strings.Join(e.Entities, ", "), strings.Join(e.Cycle, " -> "))
}

func IsTranslationError(err error) bool {
	var te *TranslationError
	return errors.As(err, &te)
}

func IsDependencyCycle(err error) bool {
	var ce *DependencyCycleError
	return errors.As(err, &ce)
}
