//go:build integration

package wallet

import (
	"context"
	"flag"
	"log"
	"os"
	"path/filepath"
	"testing"

	btcdocker "github.com/elnosh/btc-docker-test"
	"github.com/hashpool/gonuts/cashu"
	"github.com/hashpool/gonuts/cashu/nuts/nut05"
	"github.com/hashpool/gonuts/mint"
	"github.com/hashpool/gonuts/testutils"
	"github.com/lightningnetwork/lnd/lnrpc"
)

var (
	ctx        context.Context
	bitcoind   *btcdocker.Bitcoind
	lnd1       *btcdocker.Lnd
	lnd2       *btcdocker.Lnd
	testWallet *Wallet
)

func createTestWallet(walletpath, defaultMint string) (*Wallet, error) {
	if err := os.MkdirAll(walletpath, 0750); err != nil {
		return nil, err
	}
	walletConfig := Config{
		WalletPath:     walletpath,
		CurrentMintURL: defaultMint,
	}
	testWallet, err := LoadWallet(walletConfig)
	if err != nil {
		return nil, err
	}

	return testWallet, nil
}

func createTestMint(
	lnd *btcdocker.Lnd,
	port int,
	dbpath string,
) (*mint.MintServer, error) {
	if err := os.MkdirAll(dbpath, 0750); err != nil {
		return nil, err
	}

	lndClient, err := testutils.LndClient(lnd)
	if err != nil {
		return nil, err
	}

	mintServer, err := testutils.CreateTestMintServer(lndClient, port, 0, dbpath, 0)
	if err != nil {
		return nil, err
	}

	return mintServer, nil
}

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	flag.Parse()

	ctx = context.Background()
	var err error
	bitcoind, err = btcdocker.NewBitcoind(ctx)
	if err != nil {
		log.Println(err)
		return 1
	}

	_, err = bitcoind.Client.CreateWallet("")
	if err != nil {
		log.Println(err)
		return 1
	}

	lnd1, err = btcdocker.NewLnd(ctx, bitcoind)
	if err != nil {
		log.Println(err)
		return 1
	}

	lnd2, err = btcdocker.NewLnd(ctx, bitcoind)
	if err != nil {
		log.Println(err)
		return 1
	}
	defer func() {
		bitcoind.Terminate(ctx)
		lnd1.Terminate(ctx)
		lnd2.Terminate(ctx)
	}()

	err = testutils.FundLndNode(ctx, bitcoind, lnd1)
	if err != nil {
		log.Println(err)
		return 1
	}

	err = testutils.OpenChannel(ctx, bitcoind, lnd1, lnd2, 15000000)
	if err != nil {
		log.Println(err)
		return 1
	}

	testMintPath := filepath.Join(".", "testmint1")
	testMint, err := createTestMint(lnd1, 3338, testMintPath)
	if err != nil {
		log.Println(err)
		return 1
	}
	defer func() {
		os.RemoveAll(testMintPath)
	}()
	go testMint.Start()

	testWalletPath := filepath.Join(".", "/testwallet1")
	testWallet, err = createTestWallet(testWalletPath, "http://127.0.0.1:3338")
	if err != nil {
		log.Println(err)
		return 1
	}
	defer func() {
		os.RemoveAll(testWalletPath)
	}()

	return m.Run()
}

func TestMintTokens(t *testing.T) {
	var mintAmount uint64 = 300000
	// check no err
	mintRes, err := testWallet.RequestMint(mintAmount)
	if err != nil {
		t.Fatalf("error requesting mint: %v", err)
	}

	//pay invoice
	sendPaymentRequest := lnrpc.SendRequest{
		PaymentRequest: mintRes.Request,
	}
	response, _ := lnd2.Client.SendPaymentSync(ctx, &sendPaymentRequest)
	if len(response.PaymentError) > 0 {
		t.Fatalf("error paying invoice: %v", response.PaymentError)
	}

	activeSatKeyset := testWallet.GetActiveSatKeyset()
	outputs, secrets, rs, err := testWallet.CreateBlindedMessages(mintAmount, activeSatKeyset)
	if err != nil {
		t.Fatalf("CreateBlindedMessages: %v", err)
	}

	signatures, err := testWallet.MintTokens(mintRes.Quote, outputs)
	if err != nil {
		t.Fatalf("got unexpected error: %v", err)
	}
	proofs, err := testWallet.ConstructProofs(signatures, secrets, rs, &activeSatKeyset)
	if err != nil {
		t.Fatalf("ConstructProofs: %v", err)
	}
	if err := testWallet.StoreProofs(proofs); err != nil {
		t.Fatalf("StoreProofs: %v", err)
	}

	if proofs.Amount() != mintAmount {
		t.Fatalf("expected proofs amount of '%v' but got '%v' instead", mintAmount, proofs.Amount())
	}

	// non-existent quote
	_, err = testWallet.MintTokens("id198274", outputs)
	if err == nil {
		t.Fatalf("expected error but got nil")
	}
}

func TestSend(t *testing.T) {
	var sendAmount uint64 = 4200
	token, err := testWallet.Send(sendAmount)
	if err != nil {
		t.Fatalf("got unexpected error: %v", err)
	}
	if token.TotalAmount() != sendAmount {
		t.Fatalf("expected token amount of '%v' but got '%v' instead", sendAmount, token.TotalAmount())
	}

	// insufficient balance in wallet
	_, err = testWallet.Send(2000000)
	if err == nil {
		t.Fatalf("expected error but got nil")
	}
}

// TestReceive exercises receiving a token from another wallet pointed at
// the same mint; a single-mint wallet cannot swap in a token from a mint
// it isn't configured for.
func TestReceive(t *testing.T) {
	defaultMint := "http://127.0.0.1:3338"
	testWalletPath := filepath.Join(".", "/testwallet3")
	testWallet3, err := createTestWallet(testWalletPath, defaultMint)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		os.RemoveAll(testWalletPath)
	}()

	mintResponse, err := testWallet3.RequestMint(15000)
	if err != nil {
		t.Fatalf("error requesting mint: %v", err)
	}

	//pay invoice
	sendPaymentRequest := lnrpc.SendRequest{
		PaymentRequest: mintResponse.Request,
	}
	response, _ := lnd2.Client.SendPaymentSync(ctx, &sendPaymentRequest)
	if len(response.PaymentError) > 0 {
		t.Fatalf("error paying invoice: %v", response.PaymentError)
	}

	activeSatKeyset := testWallet3.GetActiveSatKeyset()
	outputs, secrets, rs, err := testWallet3.CreateBlindedMessages(15000, activeSatKeyset)
	if err != nil {
		t.Fatalf("CreateBlindedMessages: %v", err)
	}
	signatures, err := testWallet3.MintTokens(mintResponse.Quote, outputs)
	if err != nil {
		t.Fatalf("got unexpected error in mint tokens: %v", err)
	}
	proofs, err := testWallet3.ConstructProofs(signatures, secrets, rs, &activeSatKeyset)
	if err != nil {
		t.Fatalf("ConstructProofs: %v", err)
	}
	if err := testWallet3.StoreProofs(proofs); err != nil {
		t.Fatalf("StoreProofs: %v", err)
	}

	token, err := testWallet3.Send(1500)
	if err != nil {
		t.Fatalf("got unexpected error in send: %v", err)
	}

	balanceBefore := testWallet.GetBalance()
	if err := testWallet.Receive(*token); err != nil {
		t.Fatalf("got unexpected error in receive: %v", err)
	}
	if testWallet.GetBalance() != balanceBefore+1500 {
		t.Fatalf("expected balance of '%v' but got '%v' instead", balanceBefore+1500, testWallet.GetBalance())
	}
}

func TestMelt(t *testing.T) {
	// create invoice for melt request
	invoice := lnrpc.Invoice{Value: 10000}
	addInvoiceResponse, err := lnd2.Client.AddInvoice(ctx, &invoice)
	if err != nil {
		t.Fatalf("error creating invoice: %v", err)
	}

	meltRequest := nut05.PostMeltQuoteBolt11Request{Request: addInvoiceResponse.PaymentRequest, Unit: cashu.Sat.String()}
	meltResponse, err := testWallet.Melt(meltRequest)
	if err != nil {
		t.Fatalf("got unexpected melt error: %v", err)
	}
	if !meltResponse.Paid {
		t.Fatalf("expected paid melt")
	}

	// try melt for invoice over balance
	invoice = lnrpc.Invoice{Value: 6000000}
	addInvoiceResponse, err = lnd2.Client.AddInvoice(ctx, &invoice)
	if err != nil {
		t.Fatalf("error creating invoice: %v", err)
	}
	overBalanceRequest := nut05.PostMeltQuoteBolt11Request{Request: addInvoiceResponse.PaymentRequest, Unit: cashu.Sat.String()}
	if _, err = testWallet.Melt(overBalanceRequest); err == nil {
		t.Fatalf("expected error but got nil")
	}
}
