// Command walletgen prints the signer wallet behind a mnemonic, generating a
// fresh one when none is given, together with its current balance.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/openbuilders/tip-engine/internal/chain/ton"
	"github.com/openbuilders/tip-engine/internal/env"
	"github.com/openbuilders/tip-engine/internal/log"

	"github.com/joho/godotenv"
	"github.com/xssnick/tonutils-go/ton/wallet"
)

func main() {
	_ = godotenv.Load()

	log.Setup(env.GetString("LOG_LEVEL", "INFO"), env.GetString("LOG_FORMAT", "text"))

	lightClientConfig := env.GetString("LIGHTCLIENT_CONFIG",
		"https://ton.org/testnet-global.config.json")
	isTestnet := env.GetBool("IS_TESTNET", true)

	mnemonic := env.GetString("MNEMONIC", "")
	if mnemonic == "" {
		mnemonic = strings.Join(wallet.NewSeed(), " ")
		fmt.Println("New seed:", mnemonic)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	api, err := ton.Dial(ctx, lightClientConfig)
	if err != nil {
		slog.Error("couldn't connect to lite servers", "error", err)
		os.Exit(1)
	}

	chain := ton.New(&ton.Config{Testnet: isTestnet}, api)

	addr, err := chain.AddSigner(mnemonic)
	if err != nil {
		slog.Error("couldn't derive wallet", "error", err)
		os.Exit(1)
	}

	fmt.Println("Wallet address:", addr)

	balance, err := chain.Balance(ctx, addr)
	if err != nil {
		slog.Error("couldn't fetch balance", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Balance: %s TON\n", balance.StringFixed(ton.Decimals))
}
