package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"pursechain/crypto"
	"pursechain/native/voucher"
)

func main() {
	args := os.Args[1:]
	if len(args) < 1 {
		printUsage()
		return
	}

	switch args[0] {
	case "generate-key":
		path := "wallet.keystore"
		if len(args) > 1 {
			path = args[1]
		}
		generateKey(path)
	case "show-address":
		if len(args) < 2 {
			fmt.Println("Error: Please provide a keystore file.")
			printUsage()
			return
		}
		showAddress(args[1])
	case "sign-voucher":
		signVoucher(args[1:])
	default:
		fmt.Printf("Unknown command: %s\n", args[0])
		printUsage()
	}
}

func printUsage() {
	fmt.Println(`Usage: purse-cli <command> [arguments]

Commands:
  generate-key [path]            Generate a payer key and save it to a keystore file
  show-address <keystore>        Print the bech32 address for a keystore file
  sign-voucher <keystore> <merchant> <amount> <expiry> [nonce]
                                 Sign a voucher; prints voucher JSON, digest and signature

Environment:
  PURSE_CHAIN_ID     Chain identifier the voucher binds to (default 7001)
  PURSE_LEDGER_ADDR  Bech32 ledger address the voucher binds to (required for sign-voucher)
  PURSE_WALLET_PASS  Keystore passphrase (default empty)`)
}

func passphrase() string {
	return os.Getenv("PURSE_WALLET_PASS")
}

func generateKey(path string) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		fmt.Printf("Error generating key: %v\n", err)
		os.Exit(1)
	}
	if err := crypto.SaveToKeystore(path, key, passphrase()); err != nil {
		fmt.Printf("Error saving keystore: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("New key saved to %s\n", path)
	fmt.Printf("Address: %s\n", key.PubKey().Address().String())
}

func showAddress(path string) {
	key, err := crypto.LoadFromKeystore(path, passphrase())
	if err != nil {
		fmt.Printf("Error loading keystore: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(key.PubKey().Address().String())
}

func signVoucher(args []string) {
	if len(args) < 4 {
		fmt.Println("Error: sign-voucher needs <keystore> <merchant> <amount> <expiry> [nonce].")
		printUsage()
		os.Exit(1)
	}
	keystorePath, merchantStr, amountStr, expiryStr := args[0], args[1], args[2], args[3]

	chainID := uint64(7001)
	if raw := strings.TrimSpace(os.Getenv("PURSE_CHAIN_ID")); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			fmt.Printf("Error: invalid PURSE_CHAIN_ID %q\n", raw)
			os.Exit(1)
		}
		chainID = parsed
	}
	ledgerStr := strings.TrimSpace(os.Getenv("PURSE_LEDGER_ADDR"))
	if ledgerStr == "" {
		fmt.Println("Error: PURSE_LEDGER_ADDR must be set; the signature binds to one ledger deployment.")
		os.Exit(1)
	}
	ledger, err := crypto.DecodeAddress(ledgerStr)
	if err != nil {
		fmt.Printf("Error: invalid ledger address: %v\n", err)
		os.Exit(1)
	}

	key, err := crypto.LoadFromKeystore(keystorePath, passphrase())
	if err != nil {
		fmt.Printf("Error loading keystore: %v\n", err)
		os.Exit(1)
	}
	merchant, err := crypto.DecodeAddress(merchantStr)
	if err != nil {
		fmt.Printf("Error: invalid merchant address: %v\n", err)
		os.Exit(1)
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(amountStr), 10)
	if !ok || amount.Sign() <= 0 {
		fmt.Printf("Error: invalid amount %q\n", amountStr)
		os.Exit(1)
	}
	expiry, err := strconv.ParseInt(strings.TrimSpace(expiryStr), 10, 64)
	if err != nil {
		fmt.Printf("Error: invalid expiry %q\n", expiryStr)
		os.Exit(1)
	}

	// A random nonce keeps otherwise-identical vouchers distinct; an explicit
	// one lets a payer re-derive a digest.
	var nonce *big.Int
	if len(args) > 4 {
		nonce, ok = new(big.Int).SetString(strings.TrimSpace(args[4]), 10)
		if !ok || nonce.Sign() < 0 {
			fmt.Printf("Error: invalid nonce %q\n", args[4])
			os.Exit(1)
		}
	} else {
		id := uuid.New()
		nonce = new(big.Int).SetBytes(id[:])
	}

	v := &voucher.Voucher{
		Payer:    key.PubKey().Address().Array(),
		Merchant: merchant.Array(),
		Amount:   amount,
		Nonce:    nonce,
		Expiry:   expiry,
	}
	digest := v.Digest(chainID, ledger.Array())
	signature, err := ethcrypto.Sign(digest[:], key.PrivateKey)
	if err != nil {
		fmt.Printf("Error signing voucher: %v\n", err)
		os.Exit(1)
	}

	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Printf("Error encoding voucher: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(encoded))
	fmt.Printf("digest: %s\n", hex.EncodeToString(digest[:]))
	fmt.Printf("signature: %s\n", hex.EncodeToString(signature))
}
