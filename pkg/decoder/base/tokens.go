package base

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ledgersift/txdecoder/pkg/decoder/types"
	"github.com/ledgersift/txdecoder/pkg/utils"
	"github.com/shopspring/decimal"
)

var (
	TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	ApprovalTopic = crypto.Keccak256Hash([]byte("Approval(address,address,uint256)"))
)

// DecodeTokenTransfer handles ERC-20 and ERC-721 Transfer logs involving a
// tracked account. The two standards share the event topic; a fourth topic
// means the third parameter is an indexed NFT token id. The counterparty
// only attributes user diagnostics, the produced event carries none.
func (t *Tools) DecodeTokenTransfer(dctx *types.DecodeContext, counterparty types.Counterparty) (*types.DecodedEvent, error) {
	log := dctx.Log
	if topic0, ok := log.Topic0(); !ok || topic0 != TransferTopic {
		return nil, nil
	}
	if len(log.Topics) != 3 && len(log.Topics) != 4 {
		return nil, nil
	}
	if t.resolver == nil {
		return nil, nil
	}

	from := common.BytesToAddress(log.Topics[1].Bytes())
	to := common.BytesToAddress(log.Topics[2].Bytes())
	fromTracked := t.IsTracked(from)
	toTracked := t.IsTracked(to)
	if !fromTracked && !toTracked {
		return nil, nil
	}

	token, err := t.resolver.ResolveToken(log.Address)
	if err != nil {
		evt := t.MakeEvent(dctx, types.EventType_Transfer, types.EventSubType_None,
			"", log.Address.Hex(), decimal.Zero, "")
		t.NotifyUser(evt, counterparty)
		return nil, nil
	}

	var amount decimal.Decimal
	var extra map[string]any
	if len(log.Topics) == 4 {
		amount = decimal.NewFromInt(1)
		extra = map[string]any{"tokenId": log.Topics[3].Big().String()}
	} else {
		amount = TokenAmount(new(big.Int).SetBytes(log.Data), token.Decimals)
	}

	eventType, subType, notes := classifyTransfer(fromTracked, toTracked, from, to, token.Symbol, amount)
	evt := t.MakeEvent(dctx, eventType, subType, "", token.Address.Hex(), amount, notes)
	evt.ExtraData = extra
	return evt, nil
}

func classifyTransfer(fromTracked, toTracked bool, from, to common.Address, symbol string, amount decimal.Decimal) (types.EventType, types.EventSubType, string) {
	switch {
	case fromTracked && toTracked:
		return types.EventType_Transfer, types.EventSubType_None,
			fmt.Sprintf("Transfer %s %s from %s to %s", amount, symbol, from.Hex(), to.Hex())
	case fromTracked:
		if utils.IsZeroAddress(to) {
			return types.EventType_Spend, types.EventSubType_None,
				fmt.Sprintf("Burn %s %s from %s", amount, symbol, from.Hex())
		}
		return types.EventType_Spend, types.EventSubType_None,
			fmt.Sprintf("Send %s %s from %s to %s", amount, symbol, from.Hex(), to.Hex())
	default:
		if utils.IsZeroAddress(from) {
			return types.EventType_Receive, types.EventSubType_None,
				fmt.Sprintf("Mint %s %s to %s", amount, symbol, to.Hex())
		}
		return types.EventType_Receive, types.EventSubType_None,
			fmt.Sprintf("Receive %s %s from %s to %s", amount, symbol, from.Hex(), to.Hex())
	}
}

// DecodeTokenApproval handles ERC-20 Approval logs for tracked owners.
// ERC-721 approvals carry the token id as a fourth topic and are skipped.
func (t *Tools) DecodeTokenApproval(dctx *types.DecodeContext, counterparty types.Counterparty) (*types.DecodedEvent, error) {
	log := dctx.Log
	if topic0, ok := log.Topic0(); !ok || topic0 != ApprovalTopic {
		return nil, nil
	}
	if len(log.Topics) != 3 {
		return nil, nil
	}
	if t.resolver == nil {
		return nil, nil
	}

	owner := common.BytesToAddress(log.Topics[1].Bytes())
	spender := common.BytesToAddress(log.Topics[2].Bytes())
	if !t.IsTracked(owner) {
		return nil, nil
	}

	token, err := t.resolver.ResolveToken(log.Address)
	if err != nil {
		evt := t.MakeEvent(dctx, types.EventType_Informational, types.EventSubType_Approve,
			"", log.Address.Hex(), decimal.Zero, "")
		t.NotifyUser(evt, counterparty)
		return nil, nil
	}

	amount := TokenAmount(new(big.Int).SetBytes(log.Data), token.Decimals)
	notes := fmt.Sprintf("Set %s spending approval of %s by %s to %s",
		token.Symbol, owner.Hex(), spender.Hex(), amount)
	return t.MakeEvent(dctx, types.EventType_Informational, types.EventSubType_Approve,
		"", token.Address.Hex(), amount, notes), nil
}
