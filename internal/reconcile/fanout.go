package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
)

// JoinPolicy decides what a fan-out returns when some of its tasks fail.
type JoinPolicy int

const (
	// FailFast cancels the remaining tasks on the first error and returns only that error.
	FailFast JoinPolicy = iota
	// CollectAll runs every task and returns the successful results with a *PartialError.
	CollectAll
)

func (p JoinPolicy) String() string {
	switch p {
	case FailFast:
		return "fail-fast"
	case CollectAll:
		return "collect-all"
	default:
		return fmt.Sprintf("JoinPolicy(%d)", int(p))
	}
}

func ParseJoinPolicy(value string) (JoinPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "fail-fast", "failfast":
		return FailFast, nil
	case "collect-all", "collectall":
		return CollectAll, nil
	default:
		return FailFast, fmt.Errorf("unknown join policy %q", value)
	}
}

// PartialError reports that a CollectAll reconciliation is missing the results of Failed tasks.
type PartialError struct {
	Failed int
	Err    error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("reconciliation incomplete, %d task(s) failed: %v", e.Failed, e.Err)
}

func (e *PartialError) Unwrap() error {
	return e.Err
}

// IsPartial reports whether err only marks missing results.
func IsPartial(err error) bool {
	var partial *PartialError
	return errors.As(err, &partial)
}

// fanOut runs fn for every item with at most workers in flight and returns the kept results in
// input order. Under CollectAll a result is kept whenever fn reports ok, even alongside an error,
// so nested fan-outs can pass their partial output up.
func fanOut[In, Out any](ctx context.Context, policy JoinPolicy, workers int, items []In, fn func(context.Context, In) (Out, bool, error)) ([]Out, error) {
	if len(items) == 0 {
		return nil, nil
	}
	results := make([]Out, len(items))
	keep := make([]bool, len(items))
	errs := make([]error, len(items))

	var (
		group    *errgroup.Group
		groupCtx = ctx
	)
	if policy == FailFast {
		group, groupCtx = errgroup.WithContext(ctx)
	} else {
		group = &errgroup.Group{}
	}
	if workers > 0 {
		group.SetLimit(workers)
	}

	for i, item := range items {
		group.Go(func() error {
			out, ok, err := fn(groupCtx, item)
			if err != nil && policy == FailFast {
				return err
			}
			results[i], keep[i], errs[i] = out, ok, err
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	out := make([]Out, 0, len(items))
	for i := range items {
		if keep[i] {
			out = append(out, results[i])
		}
	}
	return out, collect(errs...)
}

// gather runs independent list-producing tasks and concatenates their output.
func gather[T any](ctx context.Context, policy JoinPolicy, tasks ...func(context.Context) ([]T, error)) ([]T, error) {
	lists, err := fanOut(ctx, policy, 0, tasks, func(ctx context.Context, task func(context.Context) ([]T, error)) ([]T, bool, error) {
		list, err := task(ctx)
		return list, list != nil, err
	})
	var out []T
	for _, list := range lists {
		out = append(out, list...)
	}
	return out, err
}

// collect folds task errors into one *PartialError, or nil when every task succeeded.
func collect(errs ...error) error {
	var (
		failed int
		joined []error
	)
	for _, err := range errs {
		if err == nil {
			continue
		}
		var partial *PartialError
		if errors.As(err, &partial) {
			failed += partial.Failed
			joined = append(joined, partial.Err)
			continue
		}
		failed++
		joined = append(joined, err)
	}
	if failed == 0 {
		return nil
	}
	return &PartialError{Failed: failed, Err: errors.Join(joined...)}
}
