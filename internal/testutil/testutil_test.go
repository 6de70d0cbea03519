package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewTestDSN(t *testing.T) {
	assert.Equal(t, "file:TestName?mode=memory&cache=shared", NewTestDSN("TestName"))
	assert.Equal(t, "file:TestName_sub_case?mode=memory&cache=shared", NewTestDSN("TestName/sub case"))
}
