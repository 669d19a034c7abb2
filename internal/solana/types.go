package solana

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// LamportsPerSOL is the number of lamports in one SOL.
const LamportsPerSOL = 1_000_000_000

// Well-known program IDs.
const (
	SystemProgramID                 = "11111111111111111111111111111111"
	TokenProgramID                  = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	AssociatedTokenAccountProgramID = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"
)

// SignatureInfo from getSignaturesForAddress.
type SignatureInfo struct {
	Signature string
	Slot      int64
	BlockTime *int64
	Err       interface{}
}

// SignaturesOpts defines optional pagination parameters for getSignaturesForAddress.
type SignaturesOpts struct {
	Before string // Start searching backwards from this signature
	Until  string // Search until this signature
	Limit  int    // Maximum number of signatures to return (<= 1000)
}

// SignatureStatus from getSignatureStatuses. Nil entries mean unknown signature.
type SignatureStatus struct {
	Slot               int64
	Confirmations      *int64
	Err                interface{}
	ConfirmationStatus string
}

// Transaction is a fully resolved transaction fetched with jsonParsed encoding.
type Transaction struct {
	Slot      int64
	Signature string
	BlockTime int64 // Unix timestamp (seconds)
	Meta      *TransactionMeta
	Message   *TransactionMessage
}

// TransactionMeta contains balance tables and execution status.
type TransactionMeta struct {
	Err               interface{}
	Fee               uint64
	PreBalances       []uint64
	PostBalances      []uint64
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
	LogMessages       []string
}

// TransactionMessage contains the account list and the flattened instruction list.
// Instructions holds outer instructions followed by inner (CPI) instructions.
type TransactionMessage struct {
	AccountKeys  []string
	Instructions []Instruction
}

// TokenBalance is one row of pre/postTokenBalances.
type TokenBalance struct {
	AccountIndex  int
	Mint          string
	Owner         string
	ProgramID     string
	UITokenAmount UITokenAmount
}

// UITokenAmount is a token amount as reported by the node.
type UITokenAmount struct {
	Amount         string
	Decimals       int32
	UIAmountString string
}

// Decimal returns the human-readable amount. Malformed values yield zero.
func (a UITokenAmount) Decimal() decimal.Decimal {
	if a.UIAmountString != "" {
		if d, err := decimal.NewFromString(a.UIAmountString); err == nil {
			return d
		}
	}
	if a.Amount == "" {
		return decimal.Zero
	}
	raw, err := decimal.NewFromString(a.Amount)
	if err != nil {
		return decimal.Zero
	}
	return raw.Shift(-a.Decimals)
}

// Instruction is a parsed instruction. Program/Type are empty for
// instructions the node could not parse.
type Instruction struct {
	ProgramID string
	Program   string
	Type      string
	Info      InstructionInfo
	Inner     bool
}

// InstructionInfo holds the parsed fields used by classification.
type InstructionInfo struct {
	Source            string
	Destination       string
	Authority         string
	MultisigAuthority string
	Mint              string
	Lamports          uint64
	Amount            string
	TokenAmount       *UITokenAmount
}

// IsSOLTransfer reports whether the instruction is a system transfer.
func (i Instruction) IsSOLTransfer() bool {
	return i.Program == "system" && (i.Type == "transfer" || i.Type == "transferWithSeed")
}

// IsTokenTransfer reports whether the instruction is an spl-token transfer.
func (i Instruction) IsTokenTransfer() bool {
	return (i.Program == "spl-token" || i.Program == "spl-token-2022") &&
		(i.Type == "transfer" || i.Type == "transferChecked")
}

// TransferAuthority returns the signer of a transfer instruction.
func (i Instruction) TransferAuthority() string {
	if i.Info.Authority != "" {
		return i.Info.Authority
	}
	if i.Info.MultisigAuthority != "" {
		return i.Info.MultisigAuthority
	}
	return i.Info.Source
}

// SOLAmount returns the lamports of a system transfer in SOL.
func (i Instruction) SOLAmount() decimal.Decimal {
	return LamportsToSOL(i.Info.Lamports)
}

// TokenTransferAmount returns the token amount of a transfer instruction.
// Plain transfers carry raw base units, so decimals are required to scale them.
func (i Instruction) TokenTransferAmount(decimals int32) decimal.Decimal {
	if i.Info.TokenAmount != nil {
		return i.Info.TokenAmount.Decimal()
	}
	if i.Info.Amount == "" {
		return decimal.Zero
	}
	raw, err := decimal.NewFromString(i.Info.Amount)
	if err != nil {
		return decimal.Zero
	}
	return raw.Shift(-decimals)
}

// LamportsToSOL converts lamports to SOL.
func LamportsToSOL(lamports uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), -9)
}
