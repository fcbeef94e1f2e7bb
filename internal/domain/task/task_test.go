package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalTask(t *testing.T) {
	data, err := (&PageTask{TargetID: "kn/rent", PageURL: "https://www.kn.kz/almaty/arenda-kvartir/page/3/", PageNumber: 3}).TaskValue()
	require.NoError(t, err)

	page, err := UnmarshalTask[*PageTask](data)
	require.NoError(t, err)
	assert.Equal(t, 3, page.PageNumber)
	assert.Equal(t, "kn/rent", page.Target())
}

func TestTaskWithoutTarget(t *testing.T) {
	_, err := (&ItemTask{Link: "https://krisha.kz/a/show/1"}).TaskValue()
	assert.ErrorIs(t, err, ErrMissingTarget)

	_, err = UnmarshalTask[*ItemTask]([]byte(`{"link":"https://krisha.kz/a/show/1"}`))
	assert.ErrorIs(t, err, ErrMissingTarget)

	_, err = UnmarshalTask[*ItemTask]([]byte(`null`))
	assert.ErrorIs(t, err, ErrMissingTarget)

	_, err = UnmarshalTask[*ItemTask]([]byte(`{`))
	assert.Error(t, err)
}
