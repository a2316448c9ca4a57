package testutil

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/beanschedule/internal/model"
	"github.com/Veraticus/beanschedule/internal/service"
)

func TestTransactionBuilder(t *testing.T) {
	txn := NewTransaction("2024-03-15").
		Payee("Gym").
		Narration("Membership").
		Account("Liabilities:Visa").
		Amount("-50").
		Contra("Expenses:Health:Gym").
		Schedule("gym").
		Tag("health").
		Build()

	assert.Equal(t, civil.Date{Year: 2024, Month: time.March, Day: 15}, txn.Date)
	assert.Equal(t, model.FlagCleared, txn.Flag)
	assert.Equal(t, txn.Hash, txn.ID)
	assert.Equal(t, "gym", txn.Meta[model.MetaScheduleID])
	require.Len(t, txn.Postings, 2)
	assert.Equal(t, "Liabilities:Visa", txn.Postings[0].Account)
	assert.Equal(t, "-50.00", txn.Postings[0].Amount.StringFixed(2))
	assert.Nil(t, txn.Postings[1].Amount)
	assert.True(t, txn.HasTag("health"))
}

func TestTransactionBuilder_BuildsIndependentCopies(t *testing.T) {
	b := NewTransaction("2024-01-01").ID("a").Amount("10").Meta("k", "v")
	first := b.Build()
	first.Meta["k"] = "changed"
	*first.Postings[0].Amount = first.Postings[0].Amount.Neg()

	second := b.Build()
	assert.Equal(t, "v", second.Meta["k"])
	assert.Equal(t, "10", second.Postings[0].Amount.String())
}

func TestSetupTestDB(t *testing.T) {
	db := SetupTestDB(t,
		NewTransaction("2024-01-02").ID("b").Amount("-2").Build(),
		NewTransaction("2024-01-01").ID("a").Amount("-1").Build(),
	)

	txns := db.MustTransactions()
	require.Len(t, txns, 2)
	assert.Equal(t, "a", txns[0].ID)

	err := db.WithTransaction(func(tx service.Transaction) error {
		_, err := tx.SaveTransactions(context.Background(), []model.Transaction{
			NewTransaction("2024-01-03").ID("c").Amount("-3").Build(),
		})
		return err
	})
	require.NoError(t, err)
	assert.Len(t, db.MustTransactions(), 2, "WithTransaction rolls back")
}
