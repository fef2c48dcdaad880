package custody

type DepositInput struct {
	Asset  string
	Holder string
	Amount string
}

type TransferInput struct {
	Asset  string
	From   string
	To     string
	Amount string
}

type BalanceDTO struct {
	Asset   string `json:"asset"`
	Holder  string `json:"holder"`
	Balance string `json:"balance"`
}
