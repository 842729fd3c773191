package event

import "math/big"

// DomainEvent is the closed union of decoded event kinds. The decoder
// produces exactly these variants; the mutator switches exhaustively over
// them and errors on anything else, so adding a variant without handling it
// fails loudly instead of silently no-opping.
type DomainEvent interface {
	domainEvent()
}

type MarketCreated struct {
	MarketID         string
	Creator          string
	Oracle           string
	SurplusRecipient string
	QuestionID       string
	OutcomeNames     []string
	Metadata         []byte
}

type MarketTraded struct {
	MarketID string
	Trader   string
	// UsdcFlow is the signed net flow: positive into the market, negative
	// out. Split into usdc_in/usdc_out at application time.
	UsdcFlow *big.Int
}

type MarketResolved struct {
	MarketID string
	Surplus  *big.Int
	Payouts  []*big.Int
}

type TokensRedeemed struct {
	MarketID string
	User     string
	Token    string
	Shares   *big.Int
	Payout   *big.Int
}

type SurplusWithdrawn struct {
	MarketID  string
	Recipient string
	Amount    *big.Int
}

type LockUpdated struct {
	MarketID string
	Locker   string
	Amounts  []*big.Int
}

type Unlocked struct {
	MarketID string
	Locker   string
	Amounts  []*big.Int
}

type StakeUpdated struct {
	MarketID string
	Staker   string
	Amounts  []*big.Int
}

type SponsoredLocked struct {
	MarketID    string
	Locker      string
	SetsAmount  *big.Int
	UserPaid    *big.Int
	SubsidyUsed *big.Int
	ActualCost  *big.Int
}

type EpochRootSet struct {
	EpochID *big.Int
	Root    string
}

type RewardClaimed struct {
	EpochID *big.Int
	Wallet  string
	Amount  *big.Int
}

// Transfer is a raw ERC-20 transfer. Only transfers out of a known reward
// distributor are modeled; the reconciler turns them into inferred claims.
type Transfer struct {
	Token string
	From  string
	To    string
	Value *big.Int
}

func (MarketCreated) domainEvent()    {}
func (MarketTraded) domainEvent()     {}
func (MarketResolved) domainEvent()   {}
func (TokensRedeemed) domainEvent()   {}
func (SurplusWithdrawn) domainEvent() {}
func (LockUpdated) domainEvent()      {}
func (Unlocked) domainEvent()         {}
func (StakeUpdated) domainEvent()     {}
func (SponsoredLocked) domainEvent()  {}
func (EpochRootSet) domainEvent()     {}
func (RewardClaimed) domainEvent()    {}
func (Transfer) domainEvent()         {}
