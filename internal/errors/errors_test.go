package errors_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"pubmatrix/internal/errors"
)

var errUnreachable = errors.New("backend unreachable")

func TestMarkSurvivesWrapping(t *testing.T) {
	base := errors.New("dial tcp 127.0.0.1:54345: connection refused")
	err := errors.Wrap(errors.Mark(base, errUnreachable), "open lane L1")

	assert.True(t, errors.Is(err, errUnreachable))
	assert.True(t, errors.Is(err, base))
	assert.Contains(t, err.Error(), "open lane L1")
}

func TestHintsAreCollected(t *testing.T) {
	err := errors.WithHint(errors.New("item stranded"), "resolve it with `pubmatrix resolve`")
	assert.Equal(t, []string{"resolve it with `pubmatrix resolve`"}, errors.GetAllHints(err))
}
