package models

import "time"

// Fetched records carry a natural business key used for warehouse
// deduplication. Rows live only for the duration of one job run.

// Order is one marketplace order row.
type Order struct {
	OrderNo   string    `json:"order_no"`
	Status    string    `json:"status"`
	BuyerID   string    `json:"buyer_id"`
	Amount    float64   `json:"amount"`
	Currency  string    `json:"currency"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (o Order) NaturalKey() string { return o.OrderNo }

// EscrowLine is one fee line of an order's escrow breakdown.
type EscrowLine struct {
	OrderNo   string    `json:"order_no"`
	FeeType   string    `json:"fee_type"`
	Amount    float64   `json:"amount"`
	SettledAt time.Time `json:"settled_at"`
}

func (e EscrowLine) NaturalKey() string { return e.OrderNo + "|" + e.FeeType }

// ReturnRecord is one return/refund request.
type ReturnRecord struct {
	ReturnNo  string    `json:"return_no"`
	OrderNo   string    `json:"order_no"`
	Status    string    `json:"status"`
	Amount    float64   `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

func (r ReturnRecord) NaturalKey() string { return r.ReturnNo }

// WalletTransaction is one seller wallet movement.
type WalletTransaction struct {
	TxnID  string    `json:"txn_id"`
	Type   string    `json:"type"`
	Amount float64   `json:"amount"`
	Date   time.Time `json:"date"`
}

func (w WalletTransaction) NaturalKey() string { return w.TxnID }

// AdSpendLine is one daily ad spend aggregate.
type AdSpendLine struct {
	Date        string  `json:"date"` // YYYY-MM-DD
	CampaignID  string  `json:"campaign_id"`
	ProductID   string  `json:"product_id"`
	Kind        string  `json:"kind"`
	Spend       float64 `json:"spend"`
	Impressions int64   `json:"impressions"`
}

func (a AdSpendLine) NaturalKey() string {
	return a.Date + "|" + a.CampaignID + "|" + a.ProductID + "|" + a.Kind
}

// SyncRun summarizes one completed brand pipeline run.
type SyncRun struct {
	ID              string
	Brand           string
	JobID           string
	StartedAt       time.Time
	FinishedAt      time.Time
	OrdersFetched   int
	OrdersInserted  int
	EscrowInserted  int
	ReturnsInserted int
	WalletInserted  int
	AdSpendInserted int
	Partial         bool
	Error           string
}
