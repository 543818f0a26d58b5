package version_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/darthpelo/photo-open-call-analyzer-sub000/pkg/version"
)

func TestString(t *testing.T) {
	t.Parallel()

	s := version.String()

	assert.Contains(t, s, version.Version)
	assert.Contains(t, s, "built: "+version.Date)
}
