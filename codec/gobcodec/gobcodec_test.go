package gobcodec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acksell/recordlayer/tuple"
	"github.com/acksell/recordlayer/typedvalue"
)

type order struct {
	ID       string `recordlayer:"id"`
	Customer customer
	Total    int64 `recordlayer:"total"`
}

type customer struct {
	Name string `recordlayer:"name"`
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	c := New()
	require.NoError(t, c.Register("order", order{}, "id"))

	o := order{ID: "o1", Customer: customer{Name: "ada"}, Total: 100}
	enc, err := c.Encode("order", o)
	require.NoError(t, err)

	dec, err := c.Decode("order", enc)
	require.NoError(t, err)
	assert.Equal(t, o, dec)
}

func TestEncodeUnregisteredType(t *testing.T) {
	c := New()
	_, err := c.Encode("order", order{})
	assert.Error(t, err)
}

func TestFieldValueDottedPath(t *testing.T) {
	c := New()
	require.NoError(t, c.Register("order", order{}, "id"))

	o := order{ID: "o1", Customer: customer{Name: "ada"}, Total: 100}
	v, ok := c.FieldValue(o, "Customer.name")
	require.True(t, ok)
	assert.Equal(t, typedvalue.String("ada"), v)
}

func TestFieldValueAbsentAborts(t *testing.T) {
	c := New()
	require.NoError(t, c.Register("order", order{}, "id"))

	o := order{ID: "o1"}
	_, ok := c.FieldValue(o, "missing.path")
	assert.False(t, ok)
}

func TestFieldValueStructKindUnsupported(t *testing.T) {
	c := New()
	require.NoError(t, c.Register("order", order{}, "id"))

	o := order{Total: 42}
	// "Customer" resolves to the field but its Go kind (struct) has no
	// typedvalue.Kind representation, so the overall lookup still fails.
	_, ok := c.FieldValue(o, "Customer")
	assert.False(t, ok)
}

func TestPrimaryKeyOf(t *testing.T) {
	c := New()
	require.NoError(t, c.Register("order", order{}, "id"))

	o := order{ID: "o1", Total: 5}
	pk, err := c.PrimaryKeyOf("order", o)
	require.NoError(t, err)
	assert.Equal(t, tuple.Tuple{"o1"}, pk)
}

func TestPrimaryKeyOfAbsentField(t *testing.T) {
	c := New()
	require.NoError(t, c.Register("order", order{}, "id"))

	_, err := c.PrimaryKeyOf("order", order{})
	assert.Error(t, err)
}

func TestRegisterRejectsNonStruct(t *testing.T) {
	c := New()
	err := c.Register("bad", "a string", "id")
	assert.Error(t, err)
}

func TestRegisterRequiresPrimaryKeyFields(t *testing.T) {
	c := New()
	err := c.Register("order", order{})
	assert.Error(t, err)
}
