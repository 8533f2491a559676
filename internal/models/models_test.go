package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

var testSortColumns = map[string]string{
	"id":        "id",
	"createdAt": "created_at",
	"amount":    "amount",
}

func TestPage_Normalize(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		p := Page{}
		assert.NoError(t, p.Normalize(testSortColumns, "createdAt"))
		assert.Equal(t, 1, p.Page)
		assert.Equal(t, DefaultPageSize, p.PageSize)
		assert.Equal(t, "createdAt", p.SortKey)
		assert.Equal(t, "desc", p.SortDirection)
		assert.Equal(t, 0, p.Offset())
		assert.Equal(t, "created_at DESC, id DESC", p.OrderBy(testSortColumns))
	})

	t.Run("page size above limit", func(t *testing.T) {
		p := Page{PageSize: MaxPageSize + 1}
		err := p.Normalize(testSortColumns, "id")
		assert.True(t, errors.Is(err, ErrInvalidPage))
	})

	t.Run("unknown sort key", func(t *testing.T) {
		p := Page{SortKey: "password"}
		err := p.Normalize(testSortColumns, "id")
		assert.True(t, errors.Is(err, ErrInvalidPage))
	})

	t.Run("bad direction", func(t *testing.T) {
		p := Page{SortDirection: "sideways"}
		err := p.Normalize(testSortColumns, "id")
		assert.True(t, errors.Is(err, ErrInvalidPage))
	})

	t.Run("offset and id ordering", func(t *testing.T) {
		p := Page{Page: 3, PageSize: 10, SortKey: "id", SortDirection: "ASC"}
		assert.NoError(t, p.Normalize(testSortColumns, "id"))
		assert.Equal(t, 20, p.Offset())
		assert.Equal(t, "id ASC", p.OrderBy(testSortColumns))
	})
}

func TestDirectionFor(t *testing.T) {
	d, ok := DirectionFor(KindRecharge)
	assert.True(t, ok)
	assert.Equal(t, DirectionCredit, d)

	d, ok = DirectionFor(KindTopupRequest)
	assert.True(t, ok)
	assert.Equal(t, DirectionCredit, d)

	d, ok = DirectionFor(KindCharge)
	assert.True(t, ok)
	assert.Equal(t, DirectionDebit, d)

	_, ok = DirectionFor(KindAdjustment)
	assert.False(t, ok)
}

func TestPaymentMethod_RequiresProof(t *testing.T) {
	assert.False(t, MethodCash.RequiresProof())
	assert.True(t, MethodTransfer.RequiresProof())
	assert.True(t, MethodDeposit.RequiresProof())
	assert.False(t, PaymentMethod("barter").Valid())
}

func TestPurgeProgress_ComputePercent(t *testing.T) {
	p := PurgeProgress{}
	p.ComputePercent()
	assert.Equal(t, float64(100), p.Percent)

	p = PurgeProgress{Eliminated: 25, Remaining: 75}
	p.ComputePercent()
	assert.Equal(t, float64(25), p.Percent)
}
