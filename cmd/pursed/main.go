package main

import (
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"pursechain/config"
	"pursechain/core"
	"pursechain/native/loan"
	"pursechain/native/token"
	"pursechain/observability/logging"
	"pursechain/rpc"
	"pursechain/state"
	"pursechain/storage"
)

// defaultOraclePrice is the 1e18-scaled collateral price the local trove
// simulator starts with: 10 stablecoin units per collateral unit.
var defaultOraclePrice = func() *big.Int {
	one, _ := new(big.Int).SetString("1000000000000000000", 10)
	return new(big.Int).Mul(big.NewInt(10), one)
}()

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	env, err := cfg.Active()
	if err != nil {
		panic(fmt.Sprintf("Failed to resolve environment: %v", err))
	}

	logger := logging.Setup("pursed", cfg.Environment)

	ledgerAddr, err := env.LedgerAddressBytes()
	if err != nil {
		logger.Error("Failed to decode ledger address", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(env.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	manager := state.NewManager(db)

	// The local environment runs against in-process token ledgers and the
	// deterministic trove simulator; production deployments swap these for
	// real chain bindings.
	stable := token.NewLedger("MUSD")
	collateral := token.NewLedger("BTC")
	sim := loan.NewTroveSim(stable, collateral, simAddress(), ledgerAddr, defaultOraclePrice)

	node := core.NewNode(manager, env.ChainID, ledgerAddr, stable, collateral)
	node.SetCollaborator(sim)
	node.SetLogger(logger)

	if addr := strings.TrimSpace(env.MetricsAddress); addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Error("Metrics server failed", slog.Any("error", err))
			}
		}()
	}

	server := rpc.NewServer(node, env.RPCAuthToken, env.RPCRateLimit)
	server.SetLogger(logger)
	if err := server.Start(env.RPCAddress); err != nil {
		logger.Error("RPC server failed", slog.Any("error", err))
		os.Exit(1)
	}
}

// simAddress derives a stable address for the in-process simulator's escrow
// account.
func simAddress() [20]byte {
	digest := ethcrypto.Keccak256([]byte("pursechain/trove-sim/v1"))
	var addr [20]byte
	copy(addr[:], digest[12:])
	return addr
}
