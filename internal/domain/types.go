package domain

import "encoding/json"

// PrivateBranch is the branch that holds promoted high-balance accounts.
const PrivateBranch = 99

// Account is a persisted bank account. Wire names follow the public API
// (agencia = branch, conta = account number).
type Account struct {
	ID            int64  `json:"-"`
	Name          string `json:"name"`
	Branch        int    `json:"agencia"`
	AccountNumber int    `json:"conta"`
	Balance       int64  `json:"balance"`
	OriginBranch  *int   `json:"-"`
}

type BranchAccountRequest struct {
	Branch        int `json:"agencia"`
	AccountNumber int `json:"conta"`
}

type MovementRequest struct {
	Branch        int   `json:"agencia"`
	AccountNumber int   `json:"conta"`
	Amount        int64 `json:"valor"`
}

type TransferRequest struct {
	FromAccount int   `json:"contaOrigem"`
	ToAccount   int   `json:"contaDestino"`
	Amount      int64 `json:"valor"`
}

type BalanceResponse struct {
	Balance int64 `json:"balance"`
}

type AverageResponse struct {
	Average json.Number `json:"average"`
}

type CloseResponse struct {
	ActiveAccounts int64 `json:"contasAtivas"`
}
