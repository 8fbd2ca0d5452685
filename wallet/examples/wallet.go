//go:build ignore_vet
// +build ignore_vet

package main

import (
	"fmt"

	"github.com/hashpool/gonuts/cashu"
	"github.com/hashpool/gonuts/cashu/nuts/nut05"
	"github.com/hashpool/gonuts/wallet"
)

func main() {
	config := wallet.Config{
		WalletPath:     "./cashu",
		CurrentMintURL: "http://localhost:3338",
	}

	w, err := wallet.LoadWallet(config)

	// Mint tokens
	mintQuote, err := w.RequestMint(42)

	// Once the returned invoice is paid, redeem it for ecash
	if w.CheckQuotePaid(mintQuote.Quote) {
		activeKeyset := w.GetActiveSatKeyset()
		outputs, secrets, rs, err := w.CreateBlindedMessages(42, activeKeyset)
		signatures, err := w.MintTokens(mintQuote.Quote, outputs)
		proofs, err := w.ConstructProofs(signatures, secrets, rs, &activeKeyset)
		err = w.StoreProofs(proofs)
	}

	// Send
	token, err := w.Send(21)
	fmt.Println(token.ToString())

	// Receive
	receiveToken, err := cashu.DecodeToken("cashuAeyJ0b2tlbiI6W3sibW...")
	err = w.Receive(*receiveToken)

	// Melt (pay a lightning invoice out of the wallet's balance)
	meltRequest := nut05.PostMeltQuoteBolt11Request{Request: "lnbc100n1pja0w9pdqqx...", Unit: cashu.Sat.String()}
	meltResponse, err := w.Melt(meltRequest)
	fmt.Println(meltResponse.Paid)

	// Mining-share issuance: the pool side quotes a share and redeems it
	// in one call, since a mining-share quote is paid at creation time
	receiveKey, err := w.ReceiveKey()
	quote, outputs, secrets, rs, err := w.RequestMiningShareQuote(8, "00000000000000000007c3...", receiveKey.PubKey())
	shareProofs, err := w.MintMiningShare(quote.Quote, outputs, secrets, rs, receiveKey)
	fmt.Println(shareProofs.Amount())
}
