package checkpoint

import (
	"errors"
	"fmt"
	"slices"
)

// ErrVerification is returned when a recorded log does not satisfy its
// expectations.
var ErrVerification = errors.New("checkpoint verification failed")

// Expectation is the set of steps a scenario must record. When Ordered is
// set the steps must also appear in the listed order.
type Expectation struct {
	Scenario Tag
	Steps    []int
	Ordered  bool
}

// Result is the verdict for one Expectation.
type Result struct {
	Expectation
	Got        []int
	Missing    []int
	Unexpected []int
	OutOfOrder bool
}

// Passed reports whether the scenario recorded exactly what was expected.
func (r Result) Passed() bool {
	return len(r.Missing) == 0 && len(r.Unexpected) == 0 && !r.OutOfOrder
}

func (r Result) String() string {
	if r.Passed() {
		return fmt.Sprintf("%s: pass %v", r.Scenario, r.Got)
	}
	return fmt.Sprintf("%s: FAIL got=%v missing=%v unexpected=%v out_of_order=%t",
		r.Scenario, r.Got, r.Missing, r.Unexpected, r.OutOfOrder)
}

// Verify checks log against every expectation. The returned error wraps
// ErrVerification and names each failing scenario.
func Verify(log []Checkpoint, exps ...Expectation) ([]Result, error) {
	results := make([]Result, 0, len(exps))
	var errs []error
	for _, exp := range exps {
		res := Result{Expectation: exp}
		for _, cp := range log {
			if cp.Scenario == exp.Scenario {
				res.Got = append(res.Got, cp.Step)
			}
		}
		for _, s := range exp.Steps {
			if !slices.Contains(res.Got, s) {
				res.Missing = append(res.Missing, s)
			}
		}
		for _, s := range res.Got {
			if !slices.Contains(exp.Steps, s) {
				res.Unexpected = append(res.Unexpected, s)
			}
		}
		if exp.Ordered && len(res.Missing) == 0 && len(res.Unexpected) == 0 {
			res.OutOfOrder = !slices.Equal(res.Got, exp.Steps)
		}
		if !res.Passed() {
			errs = append(errs, fmt.Errorf("%w: %s", ErrVerification, res))
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}
