package nut20

import (
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/hashpool/gonuts/cashu"
)

func SignMintQuote(
	privateKey *secp256k1.PrivateKey,
	quoteId string,
	blindedMessages cashu.BlindedMessages,
) (*schnorr.Signature, error) {
	return SignMintQuotes(privateKey, []string{quoteId}, blindedMessages)
}

func VerifyMintQuoteSignature(
	signature *schnorr.Signature,
	quoteId string,
	blindedMessages cashu.BlindedMessages,
	publicKey *secp256k1.PublicKey,
) bool {
	return VerifyMintQuotesSignature(signature, []string{quoteId}, blindedMessages, publicKey)
}

// SignMintQuotes signs a batch issuance request: the concatenation of
// every quote id in order, followed by every blinded message's B_, in
// order. A single-element quoteIds slice reproduces SignMintQuote so
// single- and batch-issue share one verifier.
func SignMintQuotes(
	privateKey *secp256k1.PrivateKey,
	quoteIds []string,
	blindedMessages cashu.BlindedMessages,
) (*schnorr.Signature, error) {
	hash := mintQuotesHash(quoteIds, blindedMessages)
	return schnorr.Sign(privateKey, hash[:])
}

// VerifyMintQuotesSignature verifies a signature produced by
// SignMintQuotes.
func VerifyMintQuotesSignature(
	signature *schnorr.Signature,
	quoteIds []string,
	blindedMessages cashu.BlindedMessages,
	publicKey *secp256k1.PublicKey,
) bool {
	if signature == nil || publicKey == nil {
		return false
	}
	hash := mintQuotesHash(quoteIds, blindedMessages)
	return signature.Verify(hash[:], publicKey)
}

func mintQuotesHash(quoteIds []string, blindedMessages cashu.BlindedMessages) [32]byte {
	msg := ""
	for _, id := range quoteIds {
		msg += id
	}
	for _, bm := range blindedMessages {
		msg += bm.B_
	}
	return sha256.Sum256([]byte(msg))
}
