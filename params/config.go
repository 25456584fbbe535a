package params

import (
	"math/big"
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// Exchange holds the deployment-time constants of the exchange.
// FeeAccount and FeePercent are immutable for the life of a deployed
// instance; changing them means deploying a new exchange.
type Exchange struct {
	FeeAccount common.Address
	FeePercent uint64 // parts per hundred (1 = 1%)

	// AllowSelfFill keeps the source behavior of letting a creator fill
	// their own order. Disable to reject self-fills.
	AllowSelfFill bool
}

// Token describes the fungible token deployed alongside the exchange.
type Token struct {
	Name   string
	Symbol string
	Supply *big.Int // whole units, minted to Owner at deployment
	Owner  common.Address
}

type Node struct {
	Listen  string
	DBPath  string
	LogFile string
}

type Config struct {
	Exchange Exchange
	Token    Token
	Node     Node
}

func Default() Config {
	return Config{
		Exchange: Exchange{
			FeeAccount:    common.HexToAddress("0xA000000000000000000000000000000000000000"),
			FeePercent:    1,
			AllowSelfFill: true,
		},
		Token: Token{
			Name:   "LeepCoin",
			Symbol: "LEEP",
			Supply: big.NewInt(1_000_000),
			Owner:  common.HexToAddress("0xA000000000000000000000000000000000000000"),
		},
		Node: Node{
			Listen:  ":8420",
			DBPath:  "data/exchange.db",
			LogFile: "data/exchanged.log",
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	if v := os.Getenv("EXCHANGE_FEE_ACCOUNT"); common.IsHexAddress(v) {
		cfg.Exchange.FeeAccount = common.HexToAddress(v)
	}
	if v := os.Getenv("EXCHANGE_FEE_PERCENT"); v != "" {
		if pct, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Exchange.FeePercent = pct
		}
	}
	if v := os.Getenv("EXCHANGE_ALLOW_SELF_FILL"); v != "" {
		cfg.Exchange.AllowSelfFill = v == "true"
	}

	if v := os.Getenv("TOKEN_NAME"); v != "" {
		cfg.Token.Name = v
	}
	if v := os.Getenv("TOKEN_SYMBOL"); v != "" {
		cfg.Token.Symbol = v
	}
	if v := os.Getenv("TOKEN_SUPPLY"); v != "" {
		if supply, ok := new(big.Int).SetString(v, 10); ok && supply.Sign() > 0 {
			cfg.Token.Supply = supply
		}
	}
	if v := os.Getenv("TOKEN_OWNER"); common.IsHexAddress(v) {
		cfg.Token.Owner = common.HexToAddress(v)
	}

	if v := os.Getenv("LISTEN"); v != "" {
		cfg.Node.Listen = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.Node.DBPath = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Node.LogFile = v
	}

	return cfg
}
