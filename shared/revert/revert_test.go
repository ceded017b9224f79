package revert_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/canonical/vold/shared/revert"
)

func TestReverterFail(t *testing.T) {
	var order []int

	reverter := revert.New()
	reverter.Add(func() { order = append(order, 1) })
	reverter.Add(func() { order = append(order, 2) }, func() { order = append(order, 3) })
	reverter.Fail()

	assert.Equal(t, []int{3, 2, 1}, order)
}

func TestReverterSuccess(t *testing.T) {
	called := false

	func() {
		reverter := revert.New()
		defer reverter.Fail()

		reverter.Add(func() { called = true })
		reverter.Success()
	}()

	assert.False(t, called)
}

func TestReverterClone(t *testing.T) {
	var order []string

	reverter := revert.New()
	reverter.Add(func() { order = append(order, "first") })

	clone := reverter.Clone()
	reverter.Success()
	reverter.Fail()
	assert.Empty(t, order)

	clone.Fail()
	assert.Equal(t, []string{"first"}, order)
}
