package main

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/hashpool/gonuts/cashu"
	"github.com/hashpool/gonuts/cashu/nuts/nut05"
	"github.com/hashpool/gonuts/cashu/nuts/nutxx"
	"github.com/hashpool/gonuts/wallet"
	"github.com/hashpool/gonuts/wallet/storage"
	"github.com/joho/godotenv"
	decodepay "github.com/nbd-wtf/ln-decodepay"
	"github.com/urfave/cli/v2"
)

var nutw *wallet.Wallet

func walletConfig() wallet.Config {
	path := setWalletPath()
	// default config
	config := wallet.Config{WalletPath: path, CurrentMintURL: "http://127.0.0.1:3338"}

	envPath := filepath.Join(path, ".env")
	if _, err := os.Stat(envPath); err != nil {
		wd, err := os.Getwd()
		if err != nil {
			envPath = ""
		} else {
			envPath = filepath.Join(wd, ".env")
		}
	}

	if len(envPath) > 0 {
		err := godotenv.Load(envPath)
		if err == nil {
			config.CurrentMintURL = getMintURL()
		}
	}

	return config
}

func setWalletPath() string {
	homedir, err := os.UserHomeDir()
	if err != nil {
		log.Fatal(err)
	}

	path := filepath.Join(homedir, ".gonuts", "wallet")
	err = os.MkdirAll(path, 0700)
	if err != nil {
		log.Fatal(err)
	}
	return path
}

func getMintURL() string {
	mintUrl := os.Getenv("MINT_URL")
	if len(mintUrl) > 0 {
		return mintUrl
	} else {
		mintHost := os.Getenv("MINT_HOST")
		mintPort := os.Getenv("MINT_PORT")
		if len(mintHost) == 0 || len(mintPort) == 0 {
			return "http://127.0.0.1:3338"
		}

		url := &url.URL{
			Scheme: "http",
			Host:   mintHost + ":" + mintPort,
		}
		mintUrl = url.String()
	}
	return mintUrl
}

func setupWallet(ctx *cli.Context) error {
	config := walletConfig()

	var err error
	nutw, err = wallet.LoadWallet(config)
	if err != nil {
		printErr(err)
	}
	return nil
}

func main() {
	app := &cli.App{
		Name:  "nutw",
		Usage: "cashu wallet",
		Commands: []*cli.Command{
			balanceCmd,
			mintCmd,
			sendCmd,
			receiveCmd,
			payCmd,
			p2pkLockCmd,
			mnemonicCmd,
			restoreCmd,
			decodeCmd,
			miningMintCmd,
			miningBatchCmd,
			miningLookupCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

var balanceCmd = &cli.Command{
	Name:   "balance",
	Usage:  "Wallet balance",
	Before: setupWallet,
	Action: getBalance,
}

func getBalance(ctx *cli.Context) error {
	fmt.Printf("Balance: %v sats\n", nutw.GetBalance())
	return nil
}

var receiveCmd = &cli.Command{
	Name:      "receive",
	Usage:     "Receive token",
	ArgsUsage: "[TOKEN]",
	Before:    setupWallet,
	Action:    receive,
}

func receive(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("token not provided"))
	}
	serializedToken := args.First()

	token, err := cashu.DecodeToken(serializedToken)
	if err != nil {
		printErr(err)
	}

	mintURL := token.Token[0].Mint
	if mintURL != nutw.MintURL {
		printErr(fmt.Errorf("token is from mint '%v', wallet is configured for '%v'", mintURL, nutw.MintURL))
	}

	if err := nutw.Receive(*token); err != nil {
		printErr(err)
	}

	fmt.Printf("%v sats received\n", token.TotalAmount())
	return nil
}

const quoteFlag = "quote"

var mintCmd = &cli.Command{
	Name:      "mint",
	Usage:     "Request mint quote. It will return a lightning invoice to be paid",
	ArgsUsage: "[AMOUNT]",
	Before:    setupWallet,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  quoteFlag,
			Usage: "Redeem ecash for a previously requested, now paid, quote id",
		},
	},
	Action: mint,
}

func mint(ctx *cli.Context) error {
	// if a quote id was passed, redeem the ecash for it
	if ctx.IsSet(quoteFlag) {
		if err := mintTokens(ctx.String(quoteFlag)); err != nil {
			printErr(err)
		}
		return nil
	}

	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("specify an amount to mint"))
	}
	amountStr := args.First()
	if err := requestMint(amountStr); err != nil {
		printErr(err)
	}

	return nil
}

func requestMint(amountStr string) error {
	amount, err := strconv.ParseUint(amountStr, 10, 64)
	if err != nil {
		return errors.New("invalid amount")
	}

	mintResponse, err := nutw.RequestMint(amount)
	if err != nil {
		return err
	}

	if err := nutw.SaveInvoice(storage.MintQuote{
		QuoteId:        mintResponse.Quote,
		Mint:           nutw.MintURL,
		PaymentRequest: mintResponse.Request,
		Amount:         amount,
		QuoteExpiry:    uint64(mintResponse.Expiry),
	}); err != nil {
		return err
	}

	fmt.Printf("invoice: %v\n\n", mintResponse.Request)
	fmt.Printf("after paying the invoice you can redeem the ecash with: nutw mint --quote %v\n", mintResponse.Quote)
	return nil
}

func mintTokens(quoteId string) error {
	if !nutw.CheckQuotePaid(quoteId) {
		return errors.New("quote has not been paid yet")
	}

	invoice := nutw.GetInvoice(quoteId)
	if invoice == nil {
		return errors.New("quote not found")
	}

	activeSatKeyset := nutw.GetActiveSatKeyset()
	outputs, secrets, rs, err := nutw.CreateBlindedMessages(invoice.Amount, activeSatKeyset)
	if err != nil {
		return err
	}

	signatures, err := nutw.MintTokens(quoteId, outputs)
	if err != nil {
		return err
	}

	proofs, err := nutw.ConstructProofs(signatures, secrets, rs, &activeSatKeyset)
	if err != nil {
		return fmt.Errorf("wallet.ConstructProofs: %v", err)
	}
	if err := nutw.StoreProofs(proofs); err != nil {
		return err
	}

	fmt.Printf("%v sats successfully minted\n", proofs.Amount())
	return nil
}

var sendCmd = &cli.Command{
	Name:      "send",
	Usage:     "Generates token to be sent for the specified amount",
	ArgsUsage: "[AMOUNT]",
	Before:    setupWallet,
	Action:    send,
}

func send(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("specify an amount to send"))
	}
	amountStr := args.First()
	sendAmount, err := strconv.ParseUint(amountStr, 10, 64)
	if err != nil {
		printErr(err)
	}

	token, err := nutw.Send(sendAmount)
	if err != nil {
		printErr(err)
	}

	fmt.Printf("%v\n", token.ToString())
	return nil
}

var payCmd = &cli.Command{
	Name:      "pay",
	Usage:     "Pay a lightning invoice",
	ArgsUsage: "[INVOICE]",
	Before:    setupWallet,
	Action:    pay,
}

func pay(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("specify a lightning invoice to pay"))
	}
	invoice := args.First()

	// check invoice passed is valid
	_, err := decodepay.Decodepay(invoice)
	if err != nil {
		printErr(fmt.Errorf("invalid invoice: %v", err))
	}

	meltRequest := nut05.PostMeltQuoteBolt11Request{Request: invoice, Unit: cashu.Sat.String()}
	meltResponse, err := nutw.Melt(meltRequest)
	if err != nil {
		printErr(err)
	}

	fmt.Printf("invoice paid: %v\n", meltResponse.Paid)
	return nil
}

var p2pkLockCmd = &cli.Command{
	Name:   "p2pk-lock",
	Usage:  "Retrieves a public key to which ecash can locked",
	Before: setupWallet,
	Action: p2pkLock,
}

func p2pkLock(ctx *cli.Context) error {
	receiveKey, err := nutw.ReceiveKey()
	if err != nil {
		printErr(err)
	}
	pubkey := hex.EncodeToString(receiveKey.PubKey().SerializeCompressed())

	fmt.Printf("Pay to Public Key (P2PK) lock: %v\n\n", pubkey)
	fmt.Println("You can unlock ecash locked to this public key")

	return nil
}

var mnemonicCmd = &cli.Command{
	Name:   "mnemonic",
	Usage:  "Mnemonic to restore wallet",
	Before: setupWallet,
	Action: mnemonic,
}

func mnemonic(ctx *cli.Context) error {
	fmt.Printf("mnemonic: %v\n", nutw.Mnemonic())
	return nil
}

var restoreCmd = &cli.Command{
	Name:   "restore",
	Usage:  "Restore wallet from mnemonic",
	Action: restore,
}

func restore(ctx *cli.Context) error {
	config := walletConfig()
	fmt.Printf("enter mnemonic: ")

	reader := bufio.NewReader(os.Stdin)
	mnemonic, err := reader.ReadString('\n')
	if err != nil {
		log.Fatal("error reading input, please try again")
	}
	mnemonic = mnemonic[:len(mnemonic)-1]

	restoredAmount, err := wallet.Restore(config.WalletPath, mnemonic, []string{config.CurrentMintURL})
	if err != nil {
		printErr(fmt.Errorf("error restoring wallet: %v", err))
	}

	fmt.Printf("restored proofs for amount of: %v\n", restoredAmount)
	return nil
}

var decodeCmd = &cli.Command{
	Name:      "decode",
	ArgsUsage: "[TOKEN]",
	Usage:     "Decode token",
	Action:    decode,
}

func decode(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("token not provided"))
	}
	serializedToken := args.First()

	token, err := cashu.DecodeToken(serializedToken)
	if err != nil {
		printErr(err)
	}

	jsonToken, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		printErr(err)
	}

	fmt.Println(string(jsonToken))

	return nil
}

const lockMiningShareFlag = "lock"

var miningMintCmd = &cli.Command{
	Name:      "mining-mint",
	Usage:     "Mint ecash against an accepted mining share",
	ArgsUsage: "[AMOUNT] [HEADER_HASH]",
	Before:    setupWallet,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  lockMiningShareFlag,
			Usage: "lock the quote to this wallet's P2PK receive key",
		},
	},
	Action: miningMint,
}

func miningMint(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 2 {
		printErr(errors.New("specify an amount and a header hash"))
	}
	amount, err := strconv.ParseUint(args.Get(0), 10, 64)
	if err != nil {
		printErr(errors.New("invalid amount"))
	}
	headerHash := args.Get(1)

	privateKey, pubkey, err := miningShareLockingKey(ctx)
	if err != nil {
		printErr(err)
	}

	quote, outputs, secrets, rs, err := nutw.RequestMiningShareQuote(amount, headerHash, pubkey)
	if err != nil {
		printErr(err)
	}

	proofs, err := nutw.MintMiningShare(quote.Quote, outputs, secrets, rs, privateKey)
	if err != nil {
		printErr(err)
	}

	fmt.Printf("%v sats minted for quote %v\n", proofs.Amount(), quote.Quote)
	return nil
}

const sharesFlag = "shares"

var miningBatchCmd = &cli.Command{
	Name:   "mining-batch",
	Usage:  "Mint ecash for several accepted mining shares in a single batch",
	Before: setupWallet,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     sharesFlag,
			Usage:    "comma-separated list of amount:header_hash pairs",
			Required: true,
		},
		&cli.BoolFlag{
			Name:  lockMiningShareFlag,
			Usage: "lock every quote in the batch to this wallet's P2PK receive key",
		},
	},
	Action: miningBatch,
}

func miningBatch(ctx *cli.Context) error {
	pairs := strings.Split(ctx.String(sharesFlag), ",")

	privateKey, pubkey, err := miningShareLockingKey(ctx)
	if err != nil {
		printErr(err)
	}

	var quoteIds []string
	var privateKeys []*secp256k1.PrivateKey
	var secretsPerQuote [][]string
	var rsPerQuote [][]*secp256k1.PrivateKey
	var outputs cashu.BlindedMessages

	for _, pair := range pairs {
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			printErr(fmt.Errorf("invalid share %q, expected amount:header_hash", pair))
		}
		amount, err := strconv.ParseUint(parts[0], 10, 64)
		if err != nil {
			printErr(fmt.Errorf("invalid amount in %q", pair))
		}

		quote, quoteOutputs, secrets, rs, err := nutw.RequestMiningShareQuote(amount, parts[1], pubkey)
		if err != nil {
			printErr(err)
		}

		quoteIds = append(quoteIds, quote.Quote)
		privateKeys = append(privateKeys, privateKey)
		secretsPerQuote = append(secretsPerQuote, secrets)
		rsPerQuote = append(rsPerQuote, rs)
		outputs = append(outputs, quoteOutputs...)
	}

	proofs, err := nutw.MintMiningShareBatch(quoteIds, outputs, secretsPerQuote, rsPerQuote, privateKeys)
	if err != nil {
		printErr(err)
	}

	fmt.Printf("%v sats minted across %v quotes\n", proofs.Amount(), len(quoteIds))
	return nil
}

const (
	pubkeyFlag = "pubkey"
	stateFlag  = "state"
)

var miningLookupCmd = &cli.Command{
	Name:   "mining-lookup",
	Usage:  "Look up mining-share quotes locked to a pubkey",
	Before: setupWallet,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  pubkeyFlag,
			Usage: "hex-encoded pubkey to look up; defaults to this wallet's own P2PK receive key",
		},
		&cli.StringFlag{
			Name:  stateFlag,
			Usage: "state filter: all, only_paid, only_unpaid, only_issued",
			Value: string(nutxx.All),
		},
	},
	Action: miningLookup,
}

func miningLookup(ctx *cli.Context) error {
	pubkeyHex := ctx.String(pubkeyFlag)
	if pubkeyHex == "" {
		receiveKey, err := nutw.ReceiveKey()
		if err != nil {
			printErr(err)
		}
		pubkeyHex = hex.EncodeToString(receiveKey.PubKey().SerializeCompressed())
	}

	response, err := nutw.LookupMiningShareQuotes([]string{pubkeyHex}, nutxx.StateFilter(ctx.String(stateFlag)), "")
	if err != nil {
		printErr(err)
	}

	jsonResponse, err := json.MarshalIndent(response, "", "  ")
	if err != nil {
		printErr(err)
	}
	fmt.Println(string(jsonResponse))
	return nil
}

// miningShareLockingKey returns the wallet's own P2PK key pair to lock a
// mining-share quote to, when the --lock flag was passed.
func miningShareLockingKey(ctx *cli.Context) (*secp256k1.PrivateKey, *secp256k1.PublicKey, error) {
	if !ctx.Bool(lockMiningShareFlag) {
		return nil, nil, nil
	}
	privateKey, err := nutw.ReceiveKey()
	if err != nil {
		return nil, nil, err
	}
	return privateKey, privateKey.PubKey(), nil
}

func printErr(msg error) {
	fmt.Println(msg.Error())
	os.Exit(0)
}
