// Command cryptoedge is the process entrypoint: it wires the providers,
// the opportunity pipeline, the order executor, and the trading state
// machine, then blocks on an OS signal. Grounded on the donor's
// cmd/main.go bootstrap/wiring/graceful-shutdown shape.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ot-clark/cryptoedge/internal/clob"
	"github.com/ot-clark/cryptoedge/internal/config"
	"github.com/ot-clark/cryptoedge/internal/domain"
	"github.com/ot-clark/cryptoedge/internal/httpfetch"
	"github.com/ot-clark/cryptoedge/internal/ledger"
	"github.com/ot-clark/cryptoedge/internal/pipeline"
	"github.com/ot-clark/cryptoedge/internal/polymarket"
	"github.com/ot-clark/cryptoedge/internal/spot"
	"github.com/ot-clark/cryptoedge/internal/store"
	"github.com/ot-clark/cryptoedge/internal/tradingengine"
	"github.com/ot-clark/cryptoedge/internal/vol"
)

const version = "v1.0"

// defaultOpportunityLimit is how many ranked opportunities the pipeline
// produces per cycle; the entry phase walks them highest-edge first.
const defaultOpportunityLimit = 25

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("no .env file found, reading from process environment only")
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().Msgf("cryptoedge %s starting", version)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	fetcher := httpfetch.New()
	spotProvider := spot.New(fetcher, cfg.Endpoints.OracleURL)

	stream := spot.NewStreamRefresher(spot.DefaultSymbols())
	stream.Start()
	defer stream.Stop()
	spotProvider = spotProvider.WithStream(stream)

	volProvider := vol.New(fetcher, cfg.Endpoints.OptionsURL, spotProvider)
	catalog := polymarket.New(fetcher, cfg.Endpoints.GammaURL)

	pipe := pipeline.New(catalog, spotProvider, volProvider)

	statePath := cfg.Endpoints.StateFilePath
	if !cfg.Bot.DryRun {
		statePath = cfg.Endpoints.RealStateFilePath
	}
	st := store.New(statePath)

	botState, existed, err := st.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("state load failed")
	}
	if !existed {
		botState = domain.NewBotState(cfg.Bot)
		log.Info().Msg("no prior state found, starting fresh")
	} else {
		botState.Config = cfg.Bot
		log.Info().Int("open_positions", len(botState.OpenPositions)).Msg("resumed prior state")
	}

	// led is left as a nil tradingengine.AuditRecorder (not a typed-nil
	// *ledger.Ledger) when the ledger is disabled or fails to open, so
	// the engine's nil check behaves correctly.
	var led tradingengine.AuditRecorder
	if cfg.Endpoints.LedgerPath != "" {
		l, err := ledger.Open(cfg.Endpoints.LedgerPath)
		if err != nil {
			log.Warn().Err(err).Msg("ledger unavailable, audit trail disabled")
		} else {
			defer l.Close()
			led = l
		}
	}

	executor := buildExecutor(cfg)

	engine := tradingengine.New(pipe, st, executor, led, botState, defaultOpportunityLimit)

	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Warn().Msg("shutdown signal received, finishing current cycle")
		cancel()
	}()

	log.Info().Bool("dry_run", cfg.Bot.DryRun).Msg("engine running")
	engine.Run(ctx)
	log.Info().Msg("engine stopped, state persisted")
}

// buildExecutor selects the dry-run or live Order Executor per config.
// A dry run never touches a wallet; a live run requires a private key.
func buildExecutor(cfg *config.Config) clob.Executor {
	if cfg.Bot.DryRun {
		return clob.NewDryRunExecutor()
	}

	pk, err := crypto.HexToECDSA(trimHexPrefix(cfg.Endpoints.WalletPrivateKey))
	if err != nil {
		log.Fatal().Err(err).Msg("invalid WALLET_PRIVATE_KEY")
	}
	signerAddr := crypto.PubkeyToAddress(pk.PublicKey)
	if cfg.Endpoints.SignerAddress != "" {
		signerAddr = common.HexToAddress(cfg.Endpoints.SignerAddress)
	}
	funderAddr := signerAddr
	if cfg.Endpoints.FunderAddress != "" {
		funderAddr = common.HexToAddress(cfg.Endpoints.FunderAddress)
	}

	const signatureTypeEOA = 0
	return clob.NewLiveExecutor(cfg.Endpoints.CLOBURL, pk, signerAddr, funderAddr, signatureTypeEOA)
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
