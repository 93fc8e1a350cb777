package assert

import "fmt"

// NotNil panics when a dependency a constructor cannot work without is
// missing.
func NotNil(value any, name string) {
	if value == nil {
		panic(fmt.Sprintf("expected %s to be not nil", name))
	}
}
