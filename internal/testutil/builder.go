package testutil

import (
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/beanschedule/internal/model"
)

// DefaultAccount is the account of the first posting unless overridden.
const DefaultAccount = "Assets:Checking"

// TransactionBuilder assembles ledger transactions for tests.
type TransactionBuilder struct {
	txn     model.Transaction
	account string
	amount  *decimal.Decimal
	contra  string
}

// NewTransaction starts a cleared transaction on an ISO date. It panics on a
// malformed date, which is always a bug in the test itself.
func NewTransaction(date string) *TransactionBuilder {
	d, err := civil.ParseDate(date)
	if err != nil {
		panic(err)
	}
	return &TransactionBuilder{
		txn:     model.Transaction{Date: d, Flag: model.FlagCleared},
		account: DefaultAccount,
	}
}

// ID sets the transaction ID.
func (b *TransactionBuilder) ID(id string) *TransactionBuilder {
	b.txn.ID = id
	return b
}

// Payee sets the payee.
func (b *TransactionBuilder) Payee(payee string) *TransactionBuilder {
	b.txn.Payee = payee
	return b
}

// Narration sets the narration.
func (b *TransactionBuilder) Narration(narration string) *TransactionBuilder {
	b.txn.Narration = narration
	return b
}

// Flag sets the flag.
func (b *TransactionBuilder) Flag(flag string) *TransactionBuilder {
	b.txn.Flag = flag
	return b
}

// Account sets the account of the first posting.
func (b *TransactionBuilder) Account(account string) *TransactionBuilder {
	b.account = account
	return b
}

// Amount sets the first posting's amount. It panics on a malformed number.
func (b *TransactionBuilder) Amount(amount string) *TransactionBuilder {
	d := decimal.RequireFromString(amount)
	b.amount = &d
	return b
}

// Contra adds a second posting with an elided amount.
func (b *TransactionBuilder) Contra(account string) *TransactionBuilder {
	b.contra = account
	return b
}

// Meta sets one metadata entry.
func (b *TransactionBuilder) Meta(key, value string) *TransactionBuilder {
	if b.txn.Meta == nil {
		b.txn.Meta = map[string]string{}
	}
	b.txn.Meta[key] = value
	return b
}

// Schedule tags the transaction with a schedule ID.
func (b *TransactionBuilder) Schedule(id string) *TransactionBuilder {
	return b.Meta(model.MetaScheduleID, id)
}

// Tag appends a tag.
func (b *TransactionBuilder) Tag(tag string) *TransactionBuilder {
	b.txn.Tags = append(b.txn.Tags, tag)
	return b
}

// Build returns the transaction with its hash set. A missing ID defaults to
// the hash.
func (b *TransactionBuilder) Build() model.Transaction {
	txn := b.txn.Clone()
	first := model.Posting{Account: b.account}
	if b.amount != nil {
		first.Amount = model.DecimalPtr(*b.amount)
		first.Currency = model.DefaultCurrency
	}
	txn.Postings = []model.Posting{first}
	if b.contra != "" {
		txn.Postings = append(txn.Postings, model.Posting{Account: b.contra})
	}
	txn.Hash = txn.GenerateHash()
	if txn.ID == "" {
		txn.ID = txn.Hash
	}
	return txn
}
